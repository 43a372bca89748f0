package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ShapeKind 动作响应负载的期望形状
type ShapeKind int

const (
	// ShapeNone 无响应负载（即便经由 request/response 往返，语义上仍是 fire-and-forget）
	ShapeNone ShapeKind = iota
	// ShapeObject 单个 JSON 对象
	ShapeObject
	// ShapeArray JSON 对象数组
	ShapeArray
)

// 已知动作
const (
	ActionGetPlayer             = "getPlayer"
	ActionGetPlayers            = "getPlayers"
	ActionListBans              = "listBans"
	ActionListItems             = "listItems"
	ActionListEntities          = "listEntities"
	ActionListLocations         = "listLocations"
	ActionTestReachability      = "testReachability"
	ActionExecuteConsoleCommand = "executeConsoleCommand"
	ActionGetMapTile            = "getMapTile"
	ActionGiveItem              = "giveItem"
	ActionSendMessage           = "sendMessage"
	ActionTeleportPlayer        = "teleportPlayer"
	ActionKickPlayer            = "kickPlayer"
	ActionBanPlayer             = "banPlayer"
	ActionUnbanPlayer           = "unbanPlayer"
	ActionShutdown              = "shutdown"
)

// actionShapes 动作到响应形状的静态映射，编译期确定，不走反射。
// 未登记的动作响应不做校验，原样透传。
var actionShapes = map[string]ShapeKind{
	ActionGetPlayer:             ShapeObject,
	ActionTestReachability:      ShapeObject,
	ActionExecuteConsoleCommand: ShapeObject,
	ActionGetPlayers:            ShapeArray,
	ActionListBans:              ShapeArray,
	ActionListItems:             ShapeArray,
	ActionListEntities:          ShapeArray,
	ActionListLocations:         ShapeArray,
	ActionGetMapTile:            ShapeNone,
	ActionGiveItem:              ShapeNone,
	ActionSendMessage:           ShapeNone,
	ActionTeleportPlayer:        ShapeNone,
	ActionKickPlayer:            ShapeNone,
	ActionBanPlayer:             ShapeNone,
	ActionUnbanPlayer:           ShapeNone,
	ActionShutdown:              ShapeNone,
}

// ResponseShape 返回动作的期望响应形状
func ResponseShape(action string) (ShapeKind, bool) {
	kind, ok := actionShapes[action]
	return kind, ok
}

// ValidateResponse 按动作的期望形状校验响应负载。
// 形状不匹配返回 ErrUnexpectedShape；未登记的动作直接通过。
func ValidateResponse(action string, payload json.RawMessage) error {
	kind, ok := actionShapes[action]
	if !ok {
		return nil
	}

	switch kind {
	case ShapeNone:
		return nil
	case ShapeObject:
		if !leadingByteIs(payload, '{') {
			return errors.Wrapf(ErrUnexpectedShape, "action %s expects an object", action)
		}
	case ShapeArray:
		if !leadingByteIs(payload, '[') {
			return errors.Wrapf(ErrUnexpectedShape, "action %s expects an array", action)
		}
	}

	if !json.Valid(payload) {
		return errors.Wrapf(ErrUnexpectedShape, "action %s response is not valid json", action)
	}
	return nil
}

// leadingByteIs 判断负载去除空白后的首字节
func leadingByteIs(payload json.RawMessage, b byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == b
}
