// Package admin 提供运维 HTTP 接口：舰队查询、动作下发、事件推送、
// 健康检查与指标暴露。
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/fleet"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/transport"
	"github.com/lk2023060901/gamefleet/pkg/conc"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// Config 运维接口配置
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":7101",
	}
}

// FleetService 运维接口依赖的舰队操作。由 fleet.Manager 实现。
type FleetService interface {
	Snapshot() []fleet.Entry
	InvokeAction(ctx context.Context, serverID, action string, args any) (json.RawMessage, error)
	SendEvent(serverID, msgType string, payload any) error
	Disconnect(serverID string) error
}

// Server 运维 HTTP 服务
type Server struct {
	cfg    *Config
	logger logger.Logger

	fleet    FleetService
	gatherer prometheus.Gatherer

	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer 创建运维服务
func NewServer(cfg *Config, svc FleetService, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Noop()
	}

	s := &Server{
		cfg:      cfg,
		logger:   log.Named("admin"),
		fleet:    svc,
		gatherer: gatherer,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.registerRoutes(engine)
	s.engine = engine

	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/fleet")
	{
		api.GET("", s.handleListFleet)
		api.POST("/servers/:id/actions/:action", s.handleInvokeAction)
		api.POST("/servers/:id/events", s.handleSendEvent)
		api.DELETE("/servers/:id", s.handleDisconnect)
	}
}

// Start 启动监听
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
	}

	conc.Go(func() (struct{}, error) {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin listener exited", "error", err, "addr", s.cfg.ListenAddr)
		}
		return struct{}{}, nil
	})

	s.logger.Info("admin server listening", "addr", s.cfg.ListenAddr)
	return nil
}

// Stop 停止监听
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListFleet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": s.fleet.Snapshot()})
}

func (s *Server) handleInvokeAction(c *gin.Context) {
	serverID := c.Param("id")
	action := c.Param("action")

	var args json.RawMessage
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid args: " + err.Error()})
			return
		}
	}

	var payload any
	if len(args) > 0 {
		payload = args
	}

	result, err := s.fleet.InvokeAction(c.Request.Context(), serverID, action, payload)
	if err != nil {
		s.logger.Warn("invoke action failed",
			"server_id", serverID,
			"action", action,
			"error", err,
		)
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	if len(result) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

type sendEventRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleSendEvent(c *gin.Context) {
	serverID := c.Param("id")

	var req sendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	if err := s.fleet.SendEvent(serverID, req.Type, payload); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.fleet.Disconnect(c.Param("id")); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// statusForError 错误到 HTTP 状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, fleet.ErrServerNotConnected):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrActionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrValidationFailed):
		return http.StatusBadGateway
	case errors.Is(err, transport.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
