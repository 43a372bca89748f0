package platform

import "errors"

var (
	// ErrTokenNotFound 注册凭证无效或已过期
	ErrTokenNotFound = errors.New("platform: registration token not found")

	// ErrServerNotFound 服务器档案不存在
	ErrServerNotFound = errors.New("platform: server not found")
)
