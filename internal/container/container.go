package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oracle-mm/config"
	"oracle-mm/gateway"
	"oracle-mm/infrastructure/logger"
	"oracle-mm/infrastructure/monitor"
	"oracle-mm/internal/engine"
	"oracle-mm/internal/exchange"
	"oracle-mm/internal/store"
	"oracle-mm/order"
	"oracle-mm/risk"
	"oracle-mm/strategy"
)

// Options 命令行覆盖项
type Options struct {
	DryRun       bool
	MetricsAddr  string // 非空时覆盖配置
	WatchConfig  bool   // 监听配置文件，报价与风控参数热更新
	Seed         uint64 // 随机源种子，0 取当前时间
	CancelOnExit bool   // 退出时尽力撤掉两侧挂单，不保证成功
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfgPath string
	cfg     *config.AppConfig
	opts    Options

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	notifier *sdNotifier

	// 交易所网关
	restClient *gateway.OracleRESTClient
	orderGw    order.Gateway

	// 核心服务
	store      *store.Store
	feed       *exchange.OracleFeed
	reconciler *order.Reconciler
	gate       *risk.Gate
	engine     *engine.TradingEngine
	watcher    *config.Watcher

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if opts.DryRun && errors.Is(err, config.ErrMissingCredentials) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if opts.DryRun {
		cfg.Gateway.DryRun = true
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}

	return &Container{
		cfgPath:   configPath,
		cfg:       &cfg,
		opts:      opts,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.buildFeed(); err != nil {
		return fmt.Errorf("build feed failed: %w", err)
	}

	if c.opts.WatchConfig {
		if err := c.buildWatcher(); err != nil {
			return fmt.Errorf("build config watcher failed: %w", err)
		}
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("symbol", c.cfg.Symbol),
		zap.String("env", c.cfg.Env),
		zap.Bool("dry_run", c.cfg.Gateway.DryRun))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())
	c.notifier = newSDNotifier(c.logger)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	gw := c.cfg.Gateway
	c.restClient = &gateway.OracleRESTClient{
		BaseURL:    gw.BaseURL,
		APIKey:     gw.APIKey,
		Account:    gw.Account,
		HTTPClient: gateway.NewDefaultHTTPClient(time.Duration(gw.TimeoutMs) * time.Millisecond),
		Limiter:    gateway.NewTokenBucketLimiter(gw.RestRate, gw.RestBurst),
		Recorder:   c.monitor,
	}

	if gw.DryRun {
		c.orderGw = gateway.NewDryRunGateway(c.logger)
		c.logger.Warn("dry run: orders are logged, never sent")
	} else {
		c.orderGw = c.restClient
	}

	c.logger.Info("gateway built", zap.String("base_url", gw.BaseURL))
	return nil
}

func (c *Container) buildCoreServices() error {
	c.store = store.New(c.cfg.Symbol, c.monitor, c.logger.LogFeed)

	params := ParamsFromConfig(*c.cfg)
	c.reconciler = order.NewReconciler(c.orderGw, c.store, order.ReconcilerConfig{
		Symbol:          c.cfg.Symbol,
		TimeInForce:     c.cfg.Gateway.TimeInForce,
		CancelPace:      params.CancelPace,
		MaxCancelRounds: params.MaxCancelRounds,
	}, c.logger, c.monitor)

	if err := params.Risk.Validate(); err != nil {
		return fmt.Errorf("risk thresholds: %w", err)
	}
	c.gate = risk.NewGate(params.Risk, c.logger)

	eng, err := engine.New(engine.Config{
		Symbol:        c.cfg.Symbol,
		CancelOnStart: true,
		CancelOnStop:  c.opts.CancelOnExit,
	}, engine.Components{
		State:      c.store,
		Quoter:     strategy.NewCollaborator(strategy.NewRandSource(c.opts.Seed)),
		Gate:       c.gate,
		Reconciler: c.reconciler,
		Params:     engine.NewParamSource(params),
		Logger:     c.logger,
		Recorder:   c.monitor,
	})
	if err != nil {
		return err
	}
	eng.SetOnReady(c.notifier.Ready)
	eng.SetOnCycle(c.notifier.Watchdog)
	c.engine = eng

	c.logger.Info("core services built")
	return nil
}

func (c *Container) buildFeed() error {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	c.feed = exchange.NewOracleFeed(exchange.FeedConfig{
		Symbol:           c.cfg.Symbol,
		APIKey:           c.cfg.Gateway.APIKey,
		Account:          c.cfg.Gateway.Account,
		ReconnectBackoff: time.Duration(c.cfg.Feed.ReconnectBackoffMs) * time.Millisecond,
	}, exchange.SocketIODialer(c.cfg.Feed.WSURL, dialer), c.store, c.logger, c.monitor)

	if c.cfg.Feed.SnapshotOnConnect && c.cfg.Gateway.APIKey != "" {
		c.feed.SetSnapshotter(c.restClient)
	}
	c.feed.SetEventSink(func(event string, _ map[string]interface{}) {
		c.notifier.Status("feed " + event)
	})
	return nil
}

func (c *Container) buildWatcher() error {
	w, err := config.NewWatcher(c.cfgPath, time.Second, c.cfg.Gateway.DryRun, c.logger)
	if err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// onConfigReload 只热更新报价与风控参数；交易对、网关等需要重启。
func (c *Container) onConfigReload(next config.AppConfig) {
	if next.Symbol != c.cfg.Symbol {
		c.logger.Warn("symbol change requires restart, ignoring",
			zap.String("current", c.cfg.Symbol),
			zap.String("requested", next.Symbol))
		return
	}
	params := ParamsFromConfig(next)
	if err := params.Risk.Validate(); err != nil {
		c.logger.Warn("reloaded risk thresholds rejected", zap.Error(err))
		return
	}
	c.engine.UpdateParams(params)
	c.logger.Info("quoting params updated",
		zap.Int64("order_size", params.OrderSize),
		zap.Duration("cycle_interval", params.CycleInterval))
}

func (c *Container) registerLifecycleComponents() {
	if c.monitor != nil && c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}

	c.lifecycle.Register(&backgroundComponent{
		name:   "feed",
		run:    c.feed.Run,
		logger: c.logger,
		health: func() error {
			if !c.feed.Connected() {
				return errors.New("feed disconnected")
			}
			return nil
		},
	})

	c.lifecycle.Register(&engineComponent{eng: c.engine})

	if c.watcher != nil {
		c.lifecycle.Register(&backgroundComponent{
			name:   "config_watcher",
			logger: c.logger,
			run: func(ctx context.Context) error {
				defer c.watcher.Stop()
				return c.watcher.Start(ctx, c.onConfigReload)
			},
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止：先停监听，再停引擎（撤掉两侧挂单），最后断开推送。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	c.notifier.Stopping()

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	stats := c.engine.GetStatistics()
	c.logger.Info("engine summary",
		zap.Int64("cycles", stats.TotalCycles),
		zap.Int64("orders", stats.TotalOrders),
		zap.Int64("side_cancels", stats.TotalSideCancels),
		zap.Int64("errors", stats.TotalErrors))

	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Logger 返回容器日志器
func (c *Container) Logger() *logger.Logger {
	return c.logger
}

// ParamsFromConfig 把配置映射为引擎参数。
func ParamsFromConfig(cfg config.AppConfig) engine.Params {
	q, r := cfg.Quoting, cfg.Risk
	return engine.Params{
		Quote: strategy.Params{
			CollaborationRate: q.CollaborationDeviateRate,
			DefectionRate:     q.DefectionDeviateRate,
			DefaultBid:        q.DefaultBid,
			DefaultAsk:        q.DefaultAsk,
		},
		OrderSize: q.OrderSize,
		Risk: risk.Thresholds{
			BuyHalt:     r.BuyHaltThreshold,
			BuyReentry:  r.BuyReentryThreshold,
			SellHalt:    r.SellHaltThreshold,
			SellReentry: r.SellReentryThreshold,
			BuyLimit:    r.BuyPositionThreshold,
			SellLimit:   r.SellPositionThreshold,
		},
		CycleInterval:   time.Duration(q.CycleIntervalMs) * time.Millisecond,
		PaceDelay:       time.Duration(q.PaceDelayMs) * time.Millisecond,
		CancelPace:      time.Duration(q.CancelPaceMs) * time.Millisecond,
		MaxCancelRounds: q.MaxCancelRounds,
	}
}

// engineComponent 把决策循环接入生命周期管理。
type engineComponent struct {
	eng *engine.TradingEngine
}

func (e *engineComponent) Start(ctx context.Context) error { return e.eng.Start(ctx) }
func (e *engineComponent) Stop() error                     { return e.eng.Stop() }
func (e *engineComponent) Health() error {
	if s := e.eng.GetState(); s != engine.StateRunning {
		return fmt.Errorf("engine %s", s)
	}
	return nil
}
