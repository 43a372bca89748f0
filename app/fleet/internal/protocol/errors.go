package protocol

import "errors"

var (
	// 帧解析错误
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// identify 负载错误
	ErrMissingIdentityToken     = errors.New("protocol: identify payload missing identityToken")
	ErrMissingRegistrationToken = errors.New("protocol: identify payload missing registrationToken")

	// 响应形状错误
	ErrUnexpectedShape = errors.New("protocol: response payload shape mismatch")
)
