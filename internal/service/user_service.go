// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"estudai-go/internal/config"
	"estudai-go/internal/model"
	"estudai-go/internal/repository"
	"estudai-go/pkg/database"
	"estudai-go/pkg/hash"
	"estudai-go/pkg/log"
	"estudai-go/pkg/storage"
	"estudai-go/pkg/token"

	"gorm.io/gorm"
)

// UserPatch 描述一次用户资料更新，nil 字段保持原值。
type UserPatch struct {
	Name   *string
	Email  *string
	Avatar *string
}

// UserService 接口定义了所有与用户身份相关的业务操作。
type UserService interface {
	Register(username, email, name, password string) (*model.User, error)
	Login(username, password string) (user *model.User, accessToken, refreshToken string, err error)
	Logout(tokenString string) error
	GetProfile(username string) (*model.User, error)
	GetByID(userID string) (*model.User, error)
	UpdateUser(userID string, patch UserPatch) (*model.User, error)
	ChangePassword(userID, currentPassword, newPassword string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
	UploadAvatar(ctx context.Context, userID, fileName, contentType string, reader io.Reader, size int64) (string, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
	minioCfg   config.MinIOConfig
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, minioCfg config.MinIOConfig) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		minioCfg:   minioCfg,
	}
}

// Register 处理用户注册的业务逻辑。
// 注册时在应用侧生成 bcrypt 哈希入库；之后的凭证校验全部走数据库的
// authenticate_user 存储过程。
func (s *userService) Register(username, email, name, password string) (*model.User, error) {
	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Username: username,
		Email:    email,
		Name:     name,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		log.Errorf("[UserService] 创建用户失败, username: %s, error: %v", username, err)
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
// 凭证校验完全委托给 authenticate_user 存储过程，应用层不做哈希比对，
// 且不区分用户名错误与密码错误。
func (s *userService) Login(username, password string) (*model.User, string, string, error) {
	user, err := s.userRepo.Authenticate(username, password)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", ErrInvalidCredentials
		}
		return nil, "", "", err
	}

	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, "", "", err
	}

	return user, accessToken, refreshToken, nil
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	// token 的剩余有效期作为 Redis key 的过期时间。
	expiration := time.Until(claims.ExpiresAt.Time)
	return database.RDB.Set(context.Background(), "blacklist:"+tokenString, "true", expiration).Err()
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetByID 根据用户 ID 获取用户详细信息。
// 客户端缓存的身份在启动时会用它重新校验，记录不存在时缓存应被清除。
func (s *userService) GetByID(userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateUser 更新用户资料，nil 字段保持原值。
func (s *userService) UpdateUser(userID string, patch UserPatch) (*model.User, error) {
	user, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		user.Name = *patch.Name
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.Avatar != nil {
		user.Avatar = patch.Avatar
	}
	if err := s.userRepo.Update(user); err != nil {
		log.Errorf("[UserService] 更新用户失败, userId: %s, error: %v", userID, err)
		return nil, fmt.Errorf("更新用户失败: %w", err)
	}
	return user, nil
}

// ChangePassword 委托 change_password 存储过程修改密码。
func (s *userService) ChangePassword(userID, currentPassword, newPassword string) error {
	ok, err := s.userRepo.ChangePassword(userID, currentPassword, newPassword)
	if err != nil {
		return fmt.Errorf("修改密码失败: %w", err)
	}
	if !ok {
		return ErrWrongPassword
	}
	return nil
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
// access token 在这里会被拒绝，两类 token 不可互换。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	user, err := s.userRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", ErrUserNotFound
	}

	newAccessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}

	return newAccessToken, newRefreshToken, nil
}

// UploadAvatar 把头像写入 MinIO 并把预签名 URL 保存到用户资料。
func (s *userService) UploadAvatar(ctx context.Context, userID, fileName, contentType string, reader io.Reader, size int64) (string, error) {
	user, err := s.GetByID(userID)
	if err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("avatars/%s/%s", user.ID, fileName)
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, reader, size, contentType); err != nil {
		log.Errorf("[UserService] 上传头像失败, userId: %s, error: %v", userID, err)
		return "", fmt.Errorf("上传头像失败: %w", err)
	}

	url, err := storage.GetPresignedURL(s.minioCfg.BucketName, objectName, 7*24*time.Hour)
	if err != nil {
		return "", fmt.Errorf("生成头像访问链接失败: %w", err)
	}

	user.Avatar = &url
	if err := s.userRepo.Update(user); err != nil {
		return "", fmt.Errorf("保存头像地址失败: %w", err)
	}
	return url, nil
}
