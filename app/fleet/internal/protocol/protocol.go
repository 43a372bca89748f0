// Package protocol 定义管理面与游戏服务器之间的线上消息格式。
// 单条消息为一个 JSON 对象：{ "type": string, "payload": object|null, "requestId"?: string }。
package protocol

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MessageType 消息类型
type MessageType string

const (
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeIdentify         MessageType = "identify"
	TypeIdentifyResponse MessageType = "identifyResponse"
	TypeGameEvent        MessageType = "gameEvent"
	TypeRequest          MessageType = "request"
	TypeResponse         MessageType = "response"
	TypeError            MessageType = "error"
)

// Frame 单条线上消息
type Frame struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Decode 解析一条入站消息
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if f.Type == "" {
		return nil, errors.Wrap(ErrMalformedFrame, "missing type")
	}
	return &f, nil
}

// NewFrame 构造一条出站消息。payload 为 nil 时省略。
// 出站消息总是携带 requestId，调用方未提供时自动生成。
func NewFrame(t MessageType, payload any, requestID string) (*Frame, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	f := &Frame{Type: t, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol: failed to marshal %s payload", t)
		}
		f.Payload = data
	}
	return f, nil
}

// Encode 序列化消息
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "protocol: failed to encode %s frame", f.Type)
	}
	return data, nil
}

// IdentifyPayload identify 消息负载
type IdentifyPayload struct {
	IdentityToken     string `json:"identityToken"`
	RegistrationToken string `json:"registrationToken"`
	Name              string `json:"name,omitempty"`
}

// Validate 校验 identify 负载。字段缺失或非字符串均为客户端错误。
func (p *IdentifyPayload) Validate() error {
	if p.IdentityToken == "" {
		return ErrMissingIdentityToken
	}
	if p.RegistrationToken == "" {
		return ErrMissingRegistrationToken
	}
	return nil
}

// IdentifyResponsePayload identifyResponse 消息负载
type IdentifyResponsePayload struct {
	ServerID string `json:"serverId"`
}

// GameEventPayload gameEvent 消息负载
type GameEventPayload struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// RequestPayload request 消息负载
type RequestPayload struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// ErrorPayload error 消息负载
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 错误帧 code 取值
const (
	CodeMalformedFrame       = "MalformedFrame"
	CodeUnknownType          = "UnknownMessageType"
	CodeNotIdentified        = "NotIdentified"
	CodeAlreadyIdentified    = "AlreadyIdentified"
	CodeIdentificationFailed = "IdentificationFailed"
	CodeValidationFailed     = "ValidationFailed"
)
