package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/admin"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/fleet"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/forward"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/identify"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/metrics"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/platform"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/transport"
	"github.com/lk2023060901/gamefleet/pkg/app"
	"github.com/lk2023060901/gamefleet/pkg/config"
	"github.com/lk2023060901/gamefleet/pkg/idgen"
	"github.com/lk2023060901/gamefleet/pkg/logger"
	"github.com/lk2023060901/gamefleet/pkg/mq/kafka"
)

// Config Fleet 服务配置
type Config struct {
	Log logger.Config `mapstructure:"log"`

	// MachineID 事件 ID 生成的机器号
	MachineID uint16 `mapstructure:"machine_id"`

	// Transport 传输层配置
	Transport transport.Config `mapstructure:"transport"`

	// Fleet 舰队管理配置
	Fleet fleet.Config `mapstructure:"fleet"`

	// Kafka 事件转发配置
	Kafka kafka.Config `mapstructure:"kafka"`

	// Admin 运维接口配置
	Admin admin.Config `mapstructure:"admin"`

	// Platform 静态租户与服务器清单
	Platform platform.StaticConfig `mapstructure:"platform"`
}

func setDefaults(mgr *config.Manager) {
	logCfg := logger.DefaultConfig()
	mgr.SetDefault("log.level", string(logCfg.Level))
	mgr.SetDefault("log.format", string(logCfg.Format))
	mgr.SetDefault("log.enable_console", logCfg.EnableConsole)

	tCfg := transport.DefaultConfig()
	mgr.SetDefault("transport.listen_addr", tCfg.ListenAddr)
	mgr.SetDefault("transport.path", tCfg.Path)
	mgr.SetDefault("transport.heartbeat_interval", tCfg.HeartbeatInterval)
	mgr.SetDefault("transport.request_timeout", tCfg.RequestTimeout)
	mgr.SetDefault("transport.max_connections", tCfg.MaxConnections)
	mgr.SetDefault("transport.max_message_size", tCfg.MaxMessageSize)

	fCfg := fleet.DefaultConfig()
	mgr.SetDefault("fleet.reconcile_interval", fCfg.ReconcileInterval)
	mgr.SetDefault("fleet.stale_threshold", fCfg.StaleThreshold)
	mgr.SetDefault("fleet.dial_timeout", fCfg.DialTimeout)
	mgr.SetDefault("fleet.dials_per_second", fCfg.DialsPerSecond)
	mgr.SetDefault("fleet.dial_burst", fCfg.DialBurst)
	mgr.SetDefault("fleet.forward_workers", fCfg.ForwardWorkers)
	mgr.SetDefault("fleet.forward_timeout", fCfg.ForwardTimeout)

	kCfg := kafka.DefaultConfig()
	mgr.SetDefault("kafka.brokers", kCfg.Brokers)
	mgr.SetDefault("kafka.topic", "gamefleet.events")
	mgr.SetDefault("kafka.producer.batch_size", kCfg.Producer.BatchSize)
	mgr.SetDefault("kafka.producer.batch_timeout", kCfg.Producer.BatchTimeout)
	mgr.SetDefault("kafka.producer.max_retries", kCfg.Producer.MaxRetries)
	mgr.SetDefault("kafka.producer.required_acks", kCfg.Producer.RequiredAcks)
	mgr.SetDefault("kafka.producer.write_timeout", kCfg.Producer.WriteTimeout)
	mgr.SetDefault("kafka.producer.read_timeout", kCfg.Producer.ReadTimeout)

	mgr.SetDefault("admin.listen_addr", admin.DefaultConfig().ListenAddr)
	mgr.SetDefault("machine_id", 1)
}

func main() {
	var cfg Config

	// 1. 加载配置
	if err := app.LoadConfig(&cfg, setDefaults); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}

	// 2. 初始化日志
	l, err := logger.New(&cfg.Log)
	if err != nil {
		panic(err)
	}

	// 3. 指标注册表
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 4. Kafka 生产者与事件转发器
	producer, err := kafka.NewProducer(&cfg.Kafka)
	if err != nil {
		l.Error("failed to create kafka producer", "error", err)
		return
	}
	gen, err := idgen.NewSonyflake(cfg.MachineID)
	if err != nil {
		l.Error("failed to create id generator", "error", err)
		return
	}
	forwarder := forward.NewKafkaForwarder(producer, gen, l)

	// 5. 平台协作方与身份握手流程
	pf := platform.NewStatic(&cfg.Platform)
	flow := identify.NewFlow(pf, pf, l)

	// 6. 传输层服务端
	transportServer, err := transport.NewServer(&cfg.Transport, l, m)
	if err != nil {
		l.Error("failed to create transport server", "error", err)
		return
	}

	// 7. 舰队管理器，接管传输层路由
	manager, err := fleet.NewManager(&cfg.Fleet, transportServer, flow, pf, forwarder, l, m)
	if err != nil {
		l.Error("failed to create fleet manager", "error", err)
		return
	}
	transportServer.SetRouter(manager)

	// 8. 运维接口
	adminServer := admin.NewServer(&cfg.Admin, manager, registry, l)

	// 9. 创建应用并注册服务
	application := app.NewBaseApp(
		app.WithName("fleet"),
		app.WithLogger(l),
	)
	application.AppendServer(transportServer, manager, adminServer)
	application.AppendCloser(producer)

	// 10. 运行
	if err := application.Run(); err != nil {
		l.Error("fleet exited with error", "error", err)
	}
}
