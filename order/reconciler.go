package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"oracle-mm/infrastructure/logger"
)

// Action 单侧对账后实际执行的动作。
type Action int

const (
	ActionNone    Action = iota
	ActionCancel         // 不允许报价：撤掉该侧全部挂单
	ActionRefill         // 价格不变：只补量
	ActionReplace        // 价格变化：撤旧挂新
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCancel:
		return "cancel"
	case ActionRefill:
		return "refill"
	case ActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Plan 某一侧本轮的目标。
type Plan struct {
	Side      Side
	Target    int64
	Permit    error // nil 表示允许在该侧报价，否则为拒绝原因
	Position  int64 // 净仓位（多正空负）
	OrderSize int64 // 该侧目标挂单总量
	Limit     int64 // 该侧仓位上限
	Resting   []OpenOrder
}

// exposure 该侧方向上的持仓：买侧即多头仓位，卖侧即空头仓位。
func (p Plan) exposure() int64 {
	if p.Side == Sell {
		return -p.Position
	}
	return p.Position
}

// Outcome 对账结果。Prev 为下一轮用于判断"价格粘滞"的本方报价。
type Outcome struct {
	Action    Action
	Placed    int64
	PrevPrice int64
	PrevKnown bool
	Err       error
}

// Recorder 指标上报，由 monitor.Monitor 实现。
type Recorder interface {
	RecordOrderPlaced(side string)
	RecordOrderRejected(side string)
	RecordOrderCanceled(side string)
	RecordReconcileAction(side, action string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOrderPlaced(string)             {}
func (noopRecorder) RecordOrderRejected(string)           {}
func (noopRecorder) RecordOrderCanceled(string)           {}
func (noopRecorder) RecordReconcileAction(string, string) {}

// ReconcilerConfig 对账器配置
type ReconcilerConfig struct {
	Symbol          string
	TimeInForce     string
	CancelPace      time.Duration // 相邻撤单调用之间的间隔，照顾交易所限频
	MaxCancelRounds int           // 撤单后重新拉取挂单的最大轮数
}

// Reconciler 比较目标报价与现有挂单，下发撤单/补单/重挂。
// 每轮都从最新状态重新推导，不维护待重试队列：失败留给下一轮自然修复。
type Reconciler struct {
	gw     Gateway
	source OrderSource
	cfg    ReconcilerConfig
	log    *logger.Logger
	rec    Recorder
	sleep  func(context.Context, time.Duration) error

	// 无 id 的挂单撤不掉，每侧只告警一次，直到它们消失
	warnedNoID map[Side]bool
}

// NewReconciler 创建对账器；rec 可为 nil。
func NewReconciler(gw Gateway, source OrderSource, cfg ReconcilerConfig, log *logger.Logger, rec Recorder) *Reconciler {
	if cfg.MaxCancelRounds <= 0 {
		cfg.MaxCancelRounds = 50
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "Day"
	}
	if log == nil {
		log = logger.NewNop()
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Reconciler{
		gw:     gw,
		source: source,
		cfg:    cfg,
		log:    log,
		rec:    rec,
		sleep:  sleepCtx,

		warnedNoID: make(map[Side]bool),
	}
}

// SetCancelPace 热更新撤单节奏。对账只在决策循环里串行调用，无需加锁。
func (r *Reconciler) SetCancelPace(pace time.Duration, rounds int) {
	r.cfg.CancelPace = pace
	if rounds > 0 {
		r.cfg.MaxCancelRounds = rounds
	}
}

// Reconcile 对单侧执行一次对账。
func (r *Reconciler) Reconcile(ctx context.Context, p Plan) Outcome {
	side := p.Side.Label()

	if p.Permit != nil {
		r.log.Info("quoting not permitted, clearing side",
			zap.String("side", side),
			zap.Int64("target", p.Target),
			zap.String("reason", p.Permit.Error()))
		out := Outcome{Action: ActionCancel}
		if len(p.Resting) > 0 {
			out.Err = r.CancelSide(ctx, p.Side)
		}
		r.rec.RecordReconcileAction(side, out.Action.String())
		return out
	}

	resting, hasResting := BestPrice(p.Resting, p.Side)
	total := TotalSize(p.Resting)
	room := p.Limit - p.exposure()

	if hasResting && p.Target == resting {
		out := Outcome{Action: ActionNone, PrevPrice: resting, PrevKnown: true}
		// 已挂量与目标不符且仓位未顶满才补
		if total != p.OrderSize && p.exposure()+total != p.Limit {
			size := min(p.OrderSize-total, room-total)
			if size > 0 {
				out.Action = ActionRefill
				out.Placed, out.Err = r.place(ctx, p.Side, p.Target, size)
			}
		}
		r.rec.RecordReconcileAction(side, out.Action.String())
		return out
	}

	out := Outcome{Action: ActionReplace, PrevPrice: p.Target, PrevKnown: true}
	if hasResting {
		if err := r.CancelSide(ctx, p.Side); err != nil {
			// 旧单没撤干净就不挂新单，避免同侧出现两档价格
			out.Err = err
			r.rec.RecordReconcileAction(side, out.Action.String())
			return out
		}
	}
	if size := min(p.OrderSize, room); size > 0 {
		out.Placed, out.Err = r.place(ctx, p.Side, p.Target, size)
	}
	r.rec.RecordReconcileAction(side, out.Action.String())
	return out
}

func (r *Reconciler) place(ctx context.Context, side Side, price, size int64) (int64, error) {
	req := PlaceRequest{
		Symbol:      r.cfg.Symbol,
		Side:        side,
		Price:       price,
		Size:        size,
		TimeInForce: r.cfg.TimeInForce,
	}
	ack, err := r.gw.Place(ctx, req)
	if err != nil {
		r.rec.RecordOrderRejected(side.Label())
		r.log.LogError(err, map[string]interface{}{
			"action": "place_order",
			"symbol": req.Symbol,
			"side":   string(side),
			"price":  price,
			"size":   size,
		})
		return 0, fmt.Errorf("place %s %d@%d: %w", side, size, price, err)
	}
	if !ack.Accepted() {
		r.rec.RecordOrderRejected(side.Label())
		r.log.Warn("order rejected",
			zap.String("side", string(side)),
			zap.Int64("price", price),
			zap.Int64("size", size),
			zap.String("status", string(ack.Status)),
			zap.String("reason", ack.Reason))
		return 0, fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
	}
	r.rec.RecordOrderPlaced(side.Label())
	r.log.LogOrder("order_placed", ack.OrderID, map[string]interface{}{
		"symbol": req.Symbol,
		"side":   string(side),
		"price":  price,
		"size":   size,
	})
	return size, nil
}

// CancelSide 撤掉该侧全部挂单：逐个撤、再从缓存重新读取，直到该侧为空。
// 撤单回报通过推送回到缓存，这里只按固定节奏轮询，不等单个撤单的确认。
func (r *Reconciler) CancelSide(ctx context.Context, side Side) error {
	for round := 0; round < r.cfg.MaxCancelRounds; round++ {
		orders, err := r.source.Orders(ctx)
		if err != nil {
			return fmt.Errorf("read open orders: %w", err)
		}
		resting := r.cancellable(orders.OnSide(side), side)
		if len(resting) == 0 {
			return nil
		}
		for i, o := range resting {
			if i > 0 {
				if err := r.sleep(ctx, r.cfg.CancelPace); err != nil {
					return err
				}
			}
			if err := r.gw.Cancel(ctx, o.ID); err != nil {
				r.log.LogError(err, map[string]interface{}{
					"action":   "cancel_order",
					"order_id": o.ID,
					"side":     string(side),
				})
				continue
			}
			r.rec.RecordOrderCanceled(side.Label())
			r.log.LogOrder("order_cancel_sent", o.ID, map[string]interface{}{
				"side":  string(side),
				"price": o.Price,
				"size":  o.Size,
			})
		}
		if err := r.sleep(ctx, r.cfg.CancelPace); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: side=%s rounds=%d", ErrCancelIncomplete, side, r.cfg.MaxCancelRounds)
}

// cancellable 去掉没有 id 的挂单；它们不计入"该侧仍有挂单"。
func (r *Reconciler) cancellable(resting []OpenOrder, side Side) []OpenOrder {
	out := make([]OpenOrder, 0, len(resting))
	var unnamed []OpenOrder
	for _, o := range resting {
		if o.ID == "" {
			unnamed = append(unnamed, o)
			continue
		}
		out = append(out, o)
	}
	if len(unnamed) == 0 {
		r.warnedNoID[side] = false
		return out
	}
	if !r.warnedNoID[side] {
		r.warnedNoID[side] = true
		r.log.Warn("resting orders without id cannot be cancelled, ignoring",
			zap.String("side", string(side)),
			zap.Int("count", len(unnamed)),
			zap.Int64("size", TotalSize(unnamed)))
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
