package model

import "time"

// User 表示系统用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`                             // 用户 ID
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一，存储前已小写归一化）
	Password  string    `gorm:"not null"`                               // bcrypt 哈希
	CreatedAt time.Time // 创建时间

	Tasks []Task `gorm:"foreignKey:UserID"`
}

// UserProjection 是返回给客户端的用户视图，不包含密码哈希。
type UserProjection struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Projection 返回去除敏感字段后的用户视图。
func (u User) Projection() UserProjection {
	return UserProjection{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}
