package models

import "time"

// User 管理API账号
type User struct {
	BaseModel

	Username    string     `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Password    string     `gorm:"size:200;not null" json:"-"` // bcrypt哈希
	IsAdmin     bool       `gorm:"default:false" json:"is_admin"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
