package transport

import "errors"

var (
	// 配置错误
	ErrInvalidConfig = errors.New("transport: invalid config")

	// 会话错误
	ErrSessionNotFound    = errors.New("transport: session not found")
	ErrSessionClosed      = errors.New("transport: session closed")
	ErrAlreadyIdentified  = errors.New("transport: session already identified")
	ErrNotIdentified      = errors.New("transport: session not identified")
	ErrDuplicateRequestID = errors.New("transport: duplicate request id")

	// invokeAction 错误
	ErrActionTimeout    = errors.New("transport: action timed out")
	ErrValidationFailed = errors.New("transport: response validation failed")
)
