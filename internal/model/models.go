package model

import "time"

// TaskStatus 任务状态枚举。
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// Valid 判断状态值是否为合法枚举。
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task 表示用户的一条待办任务。
//
// 任务归属是排他的：一条任务只有一个所有者（UserID），
// 任何读写删除都必须先通过所有权校验。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID uint `gorm:"not null;index"`    // 所属用户 ID
	User   User `gorm:"foreignKey:UserID"` // 所属用户

	Title       string     `gorm:"type:varchar(100);not null"`      // 标题（1-100 字符）
	Description string     `gorm:"type:text"`                       // 描述（可选）
	Status      TaskStatus `gorm:"type:varchar(16);default:'TODO'"` // 任务状态
}
