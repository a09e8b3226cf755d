package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"oracle-mm/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Symbol  string        `yaml:"symbol"`
	Gateway GatewayConfig `yaml:"gateway"`
	Feed    FeedConfig    `yaml:"feed"`
	Quoting QuotingConfig `yaml:"quoting"`
	Risk    RiskConfig    `yaml:"risk"`
	Log     logger.Config `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GatewayConfig REST 下单网关与凭证。
type GatewayConfig struct {
	BaseURL     string  `yaml:"baseURL"`
	APIKey      string  `yaml:"apiKey"`
	Account     string  `yaml:"account"`
	TimeInForce string  `yaml:"timeInForce"` // Day 或 IOC
	RestRate    float64 `yaml:"restRate"`    // 每秒令牌数
	RestBurst   int     `yaml:"restBurst"`
	TimeoutMs   int     `yaml:"timeoutMs"`
	DryRun      bool    `yaml:"dryRun"`
}

// FeedConfig socket.io 推送通道。
type FeedConfig struct {
	WSURL              string `yaml:"wsURL"`
	ReconnectBackoffMs int    `yaml:"reconnectBackoffMs"`
	SnapshotOnConnect  bool   `yaml:"snapshotOnConnect"` // 重连后用 REST 拉一次挂单快照
}

// QuotingConfig 报价参数，可热更新。
type QuotingConfig struct {
	OrderSize                int64   `yaml:"orderSize"`
	DefaultBid               int64   `yaml:"defaultBid"` // 盘口无买单时的地板价
	DefaultAsk               int64   `yaml:"defaultAsk"` // 盘口无卖单时的天花板价
	CollaborationDeviateRate float64 `yaml:"collaborationDeviateRate"`
	DefectionDeviateRate     float64 `yaml:"defectionDeviateRate"`
	CycleIntervalMs          int     `yaml:"cycleIntervalMs"`
	PaceDelayMs              int     `yaml:"paceDelayMs"`  // 买卖两侧动作之间的间隔
	CancelPaceMs             int     `yaml:"cancelPaceMs"` // 撤单调用之间的间隔
	MaxCancelRounds          int     `yaml:"maxCancelRounds"`
}

// RiskConfig 仓位阈值。halt/reentry 为 0 时沿用 position 阈值。
type RiskConfig struct {
	BuyPositionThreshold  int64 `yaml:"buyPositionThreshold"`
	SellPositionThreshold int64 `yaml:"sellPositionThreshold"`
	BuyHaltThreshold      int64 `yaml:"buyHaltThreshold"`
	SellHaltThreshold     int64 `yaml:"sellHaltThreshold"`
	BuyReentryThreshold   int64 `yaml:"buyReentryThreshold"`
	SellReentryThreshold  int64 `yaml:"sellReentryThreshold"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 留空关闭
}

// Load reads YAML config from path, fills defaults and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides credentials from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil && !errors.Is(err, ErrMissingCredentials) {
		return cfg, err
	}
	if v := os.Getenv("MM_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("MM_ACCOUNT"); v != "" {
		cfg.Gateway.Account = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	cfg.Symbol = strings.TrimSpace(cfg.Symbol)
	if cfg.Gateway.TimeInForce == "" {
		cfg.Gateway.TimeInForce = "Day"
	}
	if cfg.Gateway.RestRate <= 0 {
		cfg.Gateway.RestRate = 20
	}
	if cfg.Gateway.RestBurst <= 0 {
		cfg.Gateway.RestBurst = 20
	}
	if cfg.Gateway.TimeoutMs <= 0 {
		cfg.Gateway.TimeoutMs = 10000
	}
	if cfg.Feed.ReconnectBackoffMs <= 0 {
		cfg.Feed.ReconnectBackoffMs = 5000
	}
	q := &cfg.Quoting
	if q.CycleIntervalMs <= 0 {
		q.CycleIntervalMs = 100
	}
	if q.PaceDelayMs <= 0 {
		q.PaceDelayMs = 100
	}
	if q.CancelPaceMs <= 0 {
		q.CancelPaceMs = 10
	}
	if q.MaxCancelRounds <= 0 {
		q.MaxCancelRounds = 50
	}
	r := &cfg.Risk
	if r.BuyHaltThreshold == 0 {
		r.BuyHaltThreshold = r.BuyPositionThreshold
	}
	if r.SellHaltThreshold == 0 {
		r.SellHaltThreshold = r.SellPositionThreshold
	}
	if r.BuyReentryThreshold == 0 {
		r.BuyReentryThreshold = r.BuyHaltThreshold
	}
	if r.SellReentryThreshold == 0 {
		r.SellReentryThreshold = r.SellHaltThreshold
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
}

// ErrMissingCredentials 凭证缺失，可以由环境变量补齐。
var ErrMissingCredentials = errors.New("gateway.apiKey/account is required (or env overrides)")

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required")
	}
	if cfg.Feed.WSURL == "" {
		return errors.New("feed.wsURL is required")
	}
	switch cfg.Gateway.TimeInForce {
	case "Day", "IOC":
	default:
		return fmt.Errorf("gateway.timeInForce must be Day or IOC, got %q", cfg.Gateway.TimeInForce)
	}
	if err := ValidateQuoting(cfg.Quoting); err != nil {
		return err
	}
	if err := ValidateRisk(cfg.Risk); err != nil {
		return err
	}
	if !cfg.Gateway.DryRun && (cfg.Gateway.APIKey == "" || cfg.Gateway.Account == "") {
		return ErrMissingCredentials
	}
	return nil
}

// ValidateQuoting 校验可热更新的报价参数。
func ValidateQuoting(q QuotingConfig) error {
	if q.OrderSize <= 0 {
		return errors.New("quoting.orderSize must be > 0")
	}
	if q.DefaultBid <= 0 || q.DefaultAsk <= 0 {
		return errors.New("quoting.defaultBid/defaultAsk must be > 0")
	}
	if q.DefaultAsk-q.DefaultBid < 2 {
		return fmt.Errorf("quoting.defaultAsk (%d) must exceed defaultBid (%d) by at least 2 ticks", q.DefaultAsk, q.DefaultBid)
	}
	if q.CollaborationDeviateRate < 0 || q.CollaborationDeviateRate > 1 {
		return fmt.Errorf("quoting.collaborationDeviateRate must be in [0,1], got %f", q.CollaborationDeviateRate)
	}
	if q.DefectionDeviateRate < 0 || q.DefectionDeviateRate > 1 {
		return fmt.Errorf("quoting.defectionDeviateRate must be in [0,1], got %f", q.DefectionDeviateRate)
	}
	if q.CycleIntervalMs < 0 || q.PaceDelayMs < 0 || q.CancelPaceMs < 0 {
		return errors.New("quoting intervals must be >= 0")
	}
	return nil
}

// ValidateRisk 校验仓位阈值（需在 applyDefaults 之后调用）。
func ValidateRisk(r RiskConfig) error {
	if r.BuyPositionThreshold <= 0 || r.SellPositionThreshold <= 0 {
		return errors.New("risk.buyPositionThreshold/sellPositionThreshold must be > 0")
	}
	if r.BuyReentryThreshold > r.BuyHaltThreshold {
		return fmt.Errorf("risk.buyReentryThreshold (%d) must be <= buyHaltThreshold (%d)", r.BuyReentryThreshold, r.BuyHaltThreshold)
	}
	if r.SellReentryThreshold > r.SellHaltThreshold {
		return fmt.Errorf("risk.sellReentryThreshold (%d) must be <= sellHaltThreshold (%d)", r.SellReentryThreshold, r.SellHaltThreshold)
	}
	return nil
}
