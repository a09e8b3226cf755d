package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 决策循环指标
	cycles        prometheus.Counter
	cycleErrors   *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	// 订单指标
	ordersPlaced     *prometheus.CounterVec
	ordersCanceled   *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	reconcileActions *prometheus.CounterVec
	openOrders       *prometheus.GaugeVec

	// 仓位指标
	position prometheus.Gauge

	// 市场指标
	bidPrice prometheus.Gauge
	askPrice prometheus.Gauge
	vwap     prometheus.Gauge

	// 报价/风控指标
	quotePrice  *prometheus.GaugeVec
	quoteCollab *prometheus.GaugeVec
	sideHalted  *prometheus.GaugeVec
	riskRejects *prometheus.CounterVec

	// 系统指标
	wsConnections prometheus.Counter
	wsDisconnects prometheus.Counter
	feedMessages  *prometheus.CounterVec
	feedDropped   *prometheus.CounterVec
	restRequests  *prometheus.CounterVec
	restErrors    *prometheus.CounterVec
	restLatency   *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "quoting",
	}
}

// New 创建新的Monitor实例，指标注册在独立 registry 上。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		cycles:      counter("cycles_total", "决策周期总数"),
		cycleErrors: counterVec("cycle_errors_total", "决策周期错误数", "stage"),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "单个决策周期耗时（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ordersPlaced:     counterVec("orders_placed_total", "订单下单总数", "side"),
		ordersCanceled:   counterVec("orders_canceled_total", "撤单请求总数", "side"),
		ordersRejected:   counterVec("orders_rejected_total", "订单拒绝总数", "side"),
		reconcileActions: counterVec("reconcile_actions_total", "对账动作次数", "side", "action"),
		openOrders:       gaugeVec("open_orders", "当前挂单笔数", "side"),

		position: gauge("position", "当前净仓位"),

		bidPrice: gauge("bid_price", "当前买一价"),
		askPrice: gauge("ask_price", "当前卖一价"),
		vwap:     gauge("vwap", "最近成交加权均价（未知时为0）"),

		quotePrice:  gaugeVec("quote_price", "本轮目标报价", "side"),
		quoteCollab: gaugeVec("quote_collaboration", "协作标记(1=协作)", "side"),
		sideHalted:  gaugeVec("side_halted", "单侧暂停状态(1=暂停)", "side"),
		riskRejects: counterVec("risk_rejects_total", "风控不允许报价次数", "side", "reason"),

		wsConnections: counter("ws_connections_total", "WebSocket连接次数"),
		wsDisconnects: counter("ws_disconnects_total", "WebSocket断开次数"),
		feedMessages:  counterVec("feed_messages_total", "已处理推送条数", "event"),
		feedDropped:   counterVec("feed_dropped_total", "因协议错误丢弃的推送条数", "event"),
		restRequests:  counterVec("rest_requests_total", "REST请求总数", "action"),
		restErrors:    counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

// 决策循环
func (m *Monitor) RecordCycle(seconds float64) {
	m.cycles.Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Monitor) RecordCycleError(stage string) {
	m.cycleErrors.WithLabelValues(stage).Inc()
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(side string) {
	m.ordersPlaced.WithLabelValues(side).Inc()
}

func (m *Monitor) RecordOrderCanceled(side string) {
	m.ordersCanceled.WithLabelValues(side).Inc()
}

func (m *Monitor) RecordOrderRejected(side string) {
	m.ordersRejected.WithLabelValues(side).Inc()
}

func (m *Monitor) RecordReconcileAction(side, action string) {
	m.reconcileActions.WithLabelValues(side, action).Inc()
}

func (m *Monitor) UpdateOpenOrders(side string, count int) {
	m.openOrders.WithLabelValues(side).Set(float64(count))
}

// 仓位
func (m *Monitor) UpdatePosition(value float64) {
	m.position.Set(value)
}

// 市场
func (m *Monitor) UpdateBidAsk(bid, ask float64) {
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
}

func (m *Monitor) UpdateVWAP(value float64, ok bool) {
	if !ok {
		value = 0
	}
	m.vwap.Set(value)
}

// 报价与风控
func (m *Monitor) UpdateQuote(side string, price float64, collab bool) {
	m.quotePrice.WithLabelValues(side).Set(price)
	m.quoteCollab.WithLabelValues(side).Set(boolGauge(collab))
}

func (m *Monitor) UpdateHalted(side string, halted bool) {
	m.sideHalted.WithLabelValues(side).Set(boolGauge(halted))
}

func (m *Monitor) RecordRiskReject(side, reason string) {
	m.riskRejects.WithLabelValues(side, reason).Inc()
}

// 系统相关方法
func (m *Monitor) RecordWSConnection() {
	m.wsConnections.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsDisconnects.Inc()
}

func (m *Monitor) RecordFeedMessage(event string) {
	m.feedMessages.WithLabelValues(event).Inc()
}

func (m *Monitor) RecordFeedDropped(event string) {
	m.feedDropped.WithLabelValues(event).Inc()
}

func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
