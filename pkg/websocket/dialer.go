// pkg/websocket/dialer.go
package websocket

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// Dialer 主动连接拨号器
type Dialer struct {
	handshakeTimeout time.Duration
	connConfig       *ConnConfig
	logger           logger.Logger
}

// DialerOption 拨号器选项
type DialerOption func(*Dialer)

// WithDialerLogger 设置拨号器日志
func WithDialerLogger(l logger.Logger) DialerOption {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(t time.Duration) DialerOption {
	return func(d *Dialer) {
		d.handshakeTimeout = t
	}
}

// NewDialer 创建拨号器
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		handshakeTimeout: 10 * time.Second,
		connConfig:       DefaultConnConfig(),
		logger:           logger.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial 建立到指定 URL 的 WebSocket 连接
func (d *Dialer) Dial(ctx context.Context, url string) (*Connection, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}

	wsConn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrDialFailed, "%s: %v", url, err)
	}

	return NewConnection(wsConn, d.connConfig, WithConnectionLogger(d.logger)), nil
}
