package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oracle-mm/infrastructure/logger"
	"oracle-mm/internal/store"
	"oracle-mm/market"
	"oracle-mm/order"
	"oracle-mm/risk"
	"oracle-mm/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Symbol        string        // 交易对
	CancelOnStart bool          // 进入循环前撤掉两侧遗留挂单
	CancelOnStop  bool          // 停止时撤掉两侧挂单
	StopTimeout   time.Duration // 停止时撤单的最长等待
}

// StateReader 一次性读取四类状态，store.Store 实现。
type StateReader interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// OrderReconciler order.Reconciler 实现。
type OrderReconciler interface {
	Reconcile(ctx context.Context, p order.Plan) order.Outcome
	CancelSide(ctx context.Context, side order.Side) error
	SetCancelPace(pace time.Duration, rounds int)
}

// Recorder 周期级指标，monitor.Monitor 实现。
type Recorder interface {
	RecordCycle(seconds float64)
	RecordCycleError(stage string)
	UpdateQuote(side string, price float64, collab bool)
	UpdateHalted(side string, halted bool)
	UpdateVWAP(value float64, ok bool)
	RecordRiskReject(side, reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordCycle(float64)               {}
func (noopRecorder) RecordCycleError(string)           {}
func (noopRecorder) UpdateQuote(string, float64, bool) {}
func (noopRecorder) UpdateHalted(string, bool)         {}
func (noopRecorder) UpdateVWAP(float64, bool)          {}
func (noopRecorder) RecordRiskReject(string, string)   {}

// Components 引擎依赖组件
type Components struct {
	State      StateReader
	Quoter     *strategy.Collaborator
	Gate       *risk.Gate
	Reconciler OrderReconciler
	Params     *ParamSource
	Logger     *logger.Logger
	Recorder   Recorder
}

// TradingEngine 决策循环：每个周期读取状态快照，计算两侧目标价，
// 经风控判断后交给对账器，买侧在前卖侧在后。
type TradingEngine struct {
	// 配置
	config Config

	// 核心组件
	state      StateReader
	quoter     *strategy.Collaborator
	gate       *risk.Gate
	reconciler OrderReconciler
	params     *ParamSource
	logger     *logger.Logger
	rec        Recorder

	// 状态
	status EngineState
	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}

	// 跨周期记忆，只在循环内读写
	memMu sync.Mutex
	mem   strategy.Memory

	applied     Params
	haveApplied bool

	onReady   func()
	onCycle   func()
	readyOnce sync.Once

	sleep    func(context.Context, time.Duration) error
	loopWait time.Duration // Stop 等待主循环退出的上限

	statsMu sync.RWMutex
	stats   Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime         time.Time
	TotalCycles       int64
	TotalOrders       int64
	TotalSideCancels  int64
	TotalErrors       int64
	LastCycleTime     time.Time
	LastCycleDuration time.Duration
}

// CycleReport 单个周期的输入与决策，供日志和测试使用。
type CycleReport struct {
	ID        string
	Position  int64
	Market    strategy.Market
	Own       strategy.Own
	Targets   strategy.Targets
	VWAP      decimal.Decimal
	VWAPKnown bool
	Risk      risk.State
	Buy       order.Outcome
	Sell      order.Outcome
}

// New 创建交易引擎
func New(cfg Config, components Components) (*TradingEngine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	log := components.Logger
	if log == nil {
		log = logger.NewNop()
	}
	rec := components.Recorder
	if rec == nil {
		rec = noopRecorder{}
	}

	return &TradingEngine{
		config:     cfg,
		state:      components.State,
		quoter:     components.Quoter,
		gate:       components.Gate,
		reconciler: components.Reconciler,
		params:     components.Params,
		logger:     log,
		rec:        rec,
		status:     StateIdle,
		sleep:      wait,
		loopWait:   10 * time.Second,
	}, nil
}

// SetOnReady 第一次拿到完整快照后回调一次（例如 systemd READY）。
func (e *TradingEngine) SetOnReady(fn func()) {
	e.mu.Lock()
	e.onReady = fn
	e.mu.Unlock()
}

// SetOnCycle 每个周期结束后回调（例如 watchdog 心跳）。
func (e *TradingEngine) SetOnCycle(fn func()) {
	e.mu.Lock()
	e.onCycle = fn
	e.mu.Unlock()
}

// UpdateParams 热更新参数，下一个周期开始时生效。
func (e *TradingEngine) UpdateParams(p Params) {
	e.params.Store(p)
}

// Start 启动引擎，主循环在后台运行直到 ctx 结束或 Stop。
func (e *TradingEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.status)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status = StateRunning
	done := e.done
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = time.Now()
	e.statsMu.Unlock()

	e.logger.Info("Trading engine starting",
		zap.String("symbol", e.config.Symbol),
		zap.Bool("cancel_on_start", e.config.CancelOnStart))

	go e.run(runCtx, done)
	return nil
}

// Stop 停止主循环；CancelOnStop 时撤掉两侧挂单。幂等。
func (e *TradingEngine) Stop() error {
	e.mu.Lock()
	if e.status != StateRunning {
		e.mu.Unlock()
		return nil
	}
	cancel, done := e.cancel, e.done
	e.status = StateStopped
	e.mu.Unlock()

	e.logger.Info("Trading engine stopping...")
	cancel()
	exited := true
	select {
	case <-done:
	case <-time.After(e.loopWait):
		exited = false
		e.logger.Warn("Timeout waiting for engine to stop")
	}

	// 对账器只能由一个 goroutine 使用，主循环未退出时不再撤单
	if e.config.CancelOnStop && !exited {
		e.logger.Warn("Skipping cancel on stop, loop still running")
	} else if e.config.CancelOnStop {
		ctx, cancelStop := context.WithTimeout(context.Background(), e.config.StopTimeout)
		defer cancelStop()
		if err := e.cancelAll(ctx); err != nil {
			e.logger.Error("Failed to cancel orders on stop", zap.Error(err))
		}
	}

	e.logger.Info("Trading engine stopped")
	return nil
}

// Done 主循环退出后关闭。
func (e *TradingEngine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

func (e *TradingEngine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if e.config.CancelOnStart {
		if err := e.cancelAll(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Failed to cancel resting orders on start", zap.Error(err))
		}
	}

	for {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("cycle failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			e.logger.Info("Context done, stopping engine")
			return
		}

		e.mu.RLock()
		cb := e.onCycle
		e.mu.RUnlock()
		if cb != nil {
			cb()
		}

		if err := e.sleep(ctx, e.params.Load().CycleInterval); err != nil {
			return
		}
	}
}

// RunCycle 执行一个完整周期。读取快照会阻塞直到各类状态首次到齐。
func (e *TradingEngine) RunCycle(ctx context.Context) (CycleReport, error) {
	p := e.applyParams()
	rep := CycleReport{ID: uuid.NewString()}
	log := e.logger.WithFields(map[string]interface{}{"cycle_id": rep.ID})
	start := time.Now()

	snap, err := e.state.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.recordError("snapshot")
		}
		return rep, fmt.Errorf("snapshot: %w", err)
	}
	e.fireReady()
	rep.Position = snap.Position

	// 自己的挂单不算市场价
	bids, asks := market.FilterNonSelf(snap.Book, snap.Orders.Levels())
	bid, hasBid := market.BestBid(bids)
	ask, hasAsk := market.BestAsk(asks)
	rep.Market = strategy.MarketWithDefaults(bid, hasBid, ask, hasAsk, p.Quote)

	rep.Own.Bid, rep.Own.HasBid = snap.Orders.BestPrice(order.Buy)
	rep.Own.Ask, rep.Own.HasAsk = snap.Orders.BestPrice(order.Sell)

	mem := e.Memory()
	rep.Targets = e.quoter.Compute(p.Quote, rep.Market, rep.Own, mem)
	mem.BuyCollab, mem.SellCollab = rep.Targets.BuyCollab, rep.Targets.SellCollab
	// 上一轮报价先取本轮读到的自己最优挂单，再由对账结果覆盖
	setPrev(&mem, true, rep.Own.Bid, rep.Own.HasBid)
	setPrev(&mem, false, rep.Own.Ask, rep.Own.HasAsk)

	rep.VWAP, rep.VWAPKnown = snap.Trades.VWAP()
	rep.Risk = e.gate.Update(snap.Position)

	if rep.Targets.Crossed {
		log.Debug("quotes crossed, falling back to market",
			zap.Int64("bid", rep.Market.Bid),
			zap.Int64("ask", rep.Market.Ask))
	}

	rep.Buy = e.reconcileSide(ctx, log, order.Buy, rep.Targets.Buy, p, snap, rep)
	setPrev(&mem, true, rep.Buy.PrevPrice, rep.Buy.PrevKnown)
	e.storeMemory(mem)
	if err := e.sleep(ctx, p.PaceDelay); err != nil {
		return rep, err
	}

	rep.Sell = e.reconcileSide(ctx, log, order.Sell, rep.Targets.Sell, p, snap, rep)
	setPrev(&mem, false, rep.Sell.PrevPrice, rep.Sell.PrevKnown)
	e.storeMemory(mem)
	if err := e.sleep(ctx, p.PaceDelay); err != nil {
		return rep, err
	}

	e.observe(rep, time.Since(start))
	log.Debug("cycle complete",
		zap.Int64("position", rep.Position),
		zap.Int64("market_bid", rep.Market.Bid),
		zap.Int64("market_ask", rep.Market.Ask),
		zap.Int64("buy_target", rep.Targets.Buy),
		zap.Int64("sell_target", rep.Targets.Sell),
		zap.String("vwap", vwapString(rep.VWAP, rep.VWAPKnown)),
		zap.String("buy_action", rep.Buy.Action.String()),
		zap.String("sell_action", rep.Sell.Action.String()))
	return rep, nil
}

func (e *TradingEngine) reconcileSide(ctx context.Context, log *logger.Logger, side order.Side, target int64, p Params, snap store.Snapshot, rep CycleReport) order.Outcome {
	permit := e.gate.Permit(side, snap.Position, target, rep.VWAP, rep.VWAPKnown)
	if permit != nil {
		e.rec.RecordRiskReject(side.Label(), rejectReason(permit))
	}
	limit := p.Risk.BuyLimit
	if side == order.Sell {
		limit = p.Risk.SellLimit
	}

	out := e.reconciler.Reconcile(ctx, order.Plan{
		Side:      side,
		Target:    target,
		Permit:    permit,
		Position:  snap.Position,
		OrderSize: p.OrderSize,
		Limit:     limit,
		Resting:   snap.Orders.OnSide(side),
	})

	e.statsMu.Lock()
	if out.Placed > 0 {
		e.stats.TotalOrders++
	}
	if out.Action == order.ActionCancel {
		e.stats.TotalSideCancels++
	}
	e.statsMu.Unlock()

	if out.Err != nil && ctx.Err() == nil {
		log.LogError(out.Err, map[string]interface{}{
			"side":   side.Label(),
			"action": out.Action.String(),
			"target": target,
		})
		e.recordError("reconcile_" + side.Label())
	}
	return out
}

// applyParams 读取最新参数，有变化时下发给风控和对账器。
func (e *TradingEngine) applyParams() Params {
	p := e.params.Load()
	if e.haveApplied && p == e.applied {
		return p
	}
	e.gate.SetThresholds(p.Risk)
	e.reconciler.SetCancelPace(p.CancelPace, p.MaxCancelRounds)
	if e.haveApplied {
		e.logger.Info("params applied",
			zap.Int64("order_size", p.OrderSize),
			zap.Float64("collaboration_rate", p.Quote.CollaborationRate),
			zap.Float64("defection_rate", p.Quote.DefectionRate),
			zap.Int64("default_bid", p.Quote.DefaultBid),
			zap.Int64("default_ask", p.Quote.DefaultAsk))
	}
	e.applied, e.haveApplied = p, true
	return p
}

func (e *TradingEngine) cancelAll(ctx context.Context) error {
	return errors.Join(
		e.reconciler.CancelSide(ctx, order.Buy),
		e.reconciler.CancelSide(ctx, order.Sell),
	)
}

func (e *TradingEngine) fireReady() {
	e.readyOnce.Do(func() {
		e.logger.Info("state cache populated", zap.String("symbol", e.config.Symbol))
		e.mu.RLock()
		cb := e.onReady
		e.mu.RUnlock()
		if cb != nil {
			cb()
		}
	})
}

func (e *TradingEngine) observe(rep CycleReport, elapsed time.Duration) {
	e.rec.RecordCycle(elapsed.Seconds())
	e.rec.UpdateQuote(order.Buy.Label(), float64(rep.Targets.Buy), rep.Targets.BuyCollab)
	e.rec.UpdateQuote(order.Sell.Label(), float64(rep.Targets.Sell), rep.Targets.SellCollab)
	e.rec.UpdateHalted(order.Buy.Label(), rep.Risk.BuyHalted)
	e.rec.UpdateHalted(order.Sell.Label(), rep.Risk.SellHalted)
	e.rec.UpdateVWAP(rep.VWAP.InexactFloat64(), rep.VWAPKnown)

	now := time.Now()
	e.statsMu.Lock()
	e.stats.TotalCycles++
	e.stats.LastCycleTime = now
	e.stats.LastCycleDuration = elapsed
	e.statsMu.Unlock()
}

// recordError 记录错误
func (e *TradingEngine) recordError(stage string) {
	e.rec.RecordCycleError(stage)
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

// Memory 当前跨周期记忆的副本。
func (e *TradingEngine) Memory() strategy.Memory {
	e.memMu.Lock()
	defer e.memMu.Unlock()
	return e.mem
}

func (e *TradingEngine) storeMemory(m strategy.Memory) {
	e.memMu.Lock()
	e.mem = m
	e.memMu.Unlock()
}

// GetState 获取引擎状态
func (e *TradingEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// GetStatistics 获取统计信息
func (e *TradingEngine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func setPrev(m *strategy.Memory, buy bool, price int64, known bool) {
	if known {
		m.SetPrev(buy, price)
		return
	}
	m.ClearPrev(buy)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrSideHalted):
		return "halted"
	case errors.Is(err, risk.ErrPositionLimit):
		return "position_limit"
	case errors.Is(err, risk.ErrNoReferencePrice):
		return "no_vwap"
	case errors.Is(err, risk.ErrUnfavorablePrice):
		return "unfavorable"
	default:
		return "other"
	}
}

func vwapString(v decimal.Decimal, ok bool) string {
	if !ok {
		return "unknown"
	}
	return v.StringFixed(4)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.State == nil {
		return errors.New("state reader is required")
	}
	if comp.Quoter == nil {
		return errors.New("quoter is required")
	}
	if comp.Gate == nil {
		return errors.New("risk gate is required")
	}
	if comp.Reconciler == nil {
		return errors.New("reconciler is required")
	}
	if comp.Params == nil {
		return errors.New("param source is required")
	}
	return nil
}
