// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务层的哨兵错误。处理器据此映射 HTTP 状态码；
// 登录失败刻意不区分用户名错误与密码错误，避免用户枚举。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrWrongPassword      = errors.New("current password is incorrect")
)
