// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// User 对应于数据库中的 'user_info' 表。
// Password 列存放的是哈希值，序列化时永远不会返回给调用方。
type User struct {
	// ID 是用户的唯一标识符 (UUID)，由数据库默认值生成。
	ID string `gorm:"type:char(36);primaryKey;default:(UUID())" json:"id"`
	// Username 是登录名，全局唯一。
	Username string `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	// Email 是用户的邮箱地址。
	Email string `gorm:"type:varchar(255);not null" json:"email"`
	// Name 是用户的显示名称。
	Name string `gorm:"type:varchar(100);not null" json:"name"`
	// Avatar 是头像的 URL，可为空。使用指针以接受 NULL 值。
	Avatar *string `gorm:"type:varchar(512)" json:"avatar"`
	// Password 是密码哈希，json:"-" 保证任何响应都不会泄露它。
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "user_info"
}
