package password

import "golang.org/x/crypto/bcrypt"

// Cost 是 bcrypt 的固定成本因子。
const Cost = 12

// Hash 对明文密码做加盐单向哈希。
//
// 明文不会被存储或记录，调用方拿到的只有哈希文本。
func Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify 校验明文密码与哈希是否匹配。
//
// 同一明文的不同盐值哈希均可通过校验。
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
