// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"estudai-go/internal/model"

	"gorm.io/gorm"
)

// UserRepository 接口定义了用户数据的持久化操作。
// 凭证校验与改密委托给数据库侧的存储过程，应用层不做哈希比对。
type UserRepository interface {
	Create(user *model.User) error
	FindByUsername(username string) (*model.User, error)
	FindByID(userID string) (*model.User, error)
	Update(user *model.User) error
	Authenticate(username, password string) (*model.User, error)
	ChangePassword(userID, currentPassword, newPassword string) (bool, error)
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 在数据库中创建一个新的用户记录。
func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

// FindByUsername 根据用户名从数据库中查找一个用户。
func (r *userRepository) FindByUsername(username string) (*model.User, error) {
	var user model.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID 根据用户 ID 从数据库中查找一个用户。
func (r *userRepository) FindByID(userID string) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", userID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update 更新数据库中一个已存在的用户记录。
func (r *userRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

// Authenticate 调用 authenticate_user 存储过程校验凭证。
// 凭证错误时存储过程返回空结果集，这里统一映射为 gorm.ErrRecordNotFound，
// 不区分用户名错误还是密码错误。
func (r *userRepository) Authenticate(username, password string) (*model.User, error) {
	var user model.User
	result := r.db.Raw("CALL authenticate_user(?, ?)", username, password).Scan(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

// ChangePassword 调用 change_password 存储过程修改密码。
// 存储过程返回单列布尔结果，当前密码不匹配时为 false。
func (r *userRepository) ChangePassword(userID, currentPassword, newPassword string) (bool, error) {
	var row struct {
		Success bool `gorm:"column:success"`
	}
	result := r.db.Raw("CALL change_password(?, ?, ?)", userID, currentPassword, newPassword).Scan(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return row.Success, nil
}
