package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"oracle-mm/infrastructure/logger"
	"oracle-mm/order"
)

// Thresholds 单侧暂停/恢复阈值与硬仓位上限，数量单位与仓位一致。
// 卖侧阈值按空头仓位（-position）计。
type Thresholds struct {
	BuyHalt     int64
	BuyReentry  int64
	SellHalt    int64
	SellReentry int64
	BuyLimit    int64
	SellLimit   int64
}

// Validate 恢复阈值必须不高于暂停阈值，否则滞回区间为空。
func (t Thresholds) Validate() error {
	if t.BuyReentry > t.BuyHalt {
		return fmt.Errorf("buy reentry %d above halt %d", t.BuyReentry, t.BuyHalt)
	}
	if t.SellReentry > t.SellHalt {
		return fmt.Errorf("sell reentry %d above halt %d", t.SellReentry, t.SellHalt)
	}
	if t.BuyLimit <= 0 || t.SellLimit <= 0 {
		return fmt.Errorf("position limits must be positive: buy=%d sell=%d", t.BuyLimit, t.SellLimit)
	}
	return nil
}

// State 当前两侧的暂停状态。
type State struct {
	BuyHalted  bool
	SellHalted bool
}

// Halted 指定方向是否暂停。
func (s State) Halted(side order.Side) bool {
	if side == order.Sell {
		return s.SellHalted
	}
	return s.BuyHalted
}

// Gate 仓位滞回 + VWAP 价格有利性检查。
type Gate struct {
	mu    sync.Mutex
	th    Thresholds
	state State
	log   *logger.Logger
}

// NewGate 初始两侧均未暂停。
func NewGate(th Thresholds, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{th: th, log: log}
}

// SetThresholds 热更新阈值，不重置当前暂停状态。
func (g *Gate) SetThresholds(th Thresholds) {
	g.mu.Lock()
	g.th = th
	g.mu.Unlock()
}

// Thresholds 当前阈值。
func (g *Gate) Thresholds() Thresholds {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.th
}

// State 当前暂停状态。
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Update 根据仓位推进暂停状态。暂停与恢复是互斥判断，
// 同一次调用里一侧最多发生一次翻转；处于两阈值之间时保持原状态。
func (g *Gate) Update(position int64) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.state
	g.state.BuyHalted = step(prev.BuyHalted, position, g.th.BuyHalt, g.th.BuyReentry)
	g.state.SellHalted = step(prev.SellHalted, -position, g.th.SellHalt, g.th.SellReentry)

	if prev.BuyHalted != g.state.BuyHalted {
		g.logTransition(order.Buy, g.state.BuyHalted, position)
	}
	if prev.SellHalted != g.state.SellHalted {
		g.logTransition(order.Sell, g.state.SellHalted, position)
	}
	return g.state
}

func step(halted bool, exposure, halt, reentry int64) bool {
	if exposure >= halt {
		return true
	}
	if exposure <= reentry {
		return false
	}
	return halted
}

func (g *Gate) logTransition(side order.Side, halted bool, position int64) {
	event := "side_resumed"
	if halted {
		event = "side_halted"
	}
	g.log.LogRisk(event, map[string]interface{}{
		"side":     side.Label(),
		"position": position,
		"halt":     g.haltFor(side),
	})
}

func (g *Gate) haltFor(side order.Side) int64 {
	if side == order.Sell {
		return g.th.SellHalt
	}
	return g.th.BuyHalt
}

// Permit 判断本轮能否在该侧报价，返回 nil 或带原因的错误。
// 买价须严格低于 VWAP，卖价须严格高于 VWAP；VWAP 未知时不允许报价。
// 调用前应先 Update 本轮仓位。
func (g *Gate) Permit(side order.Side, position, price int64, vwap decimal.Decimal, vwapOK bool) error {
	g.mu.Lock()
	th, state := g.th, g.state
	g.mu.Unlock()

	if state.Halted(side) {
		return fmt.Errorf("%w: %s position=%d", ErrSideHalted, side.Label(), position)
	}
	switch side {
	case order.Buy:
		if position >= th.BuyLimit {
			return fmt.Errorf("%w: long %d >= %d", ErrPositionLimit, position, th.BuyLimit)
		}
	case order.Sell:
		if -position >= th.SellLimit {
			return fmt.Errorf("%w: short %d >= %d", ErrPositionLimit, -position, th.SellLimit)
		}
	}
	if !vwapOK {
		return ErrNoReferencePrice
	}
	p := decimal.NewFromInt(price)
	favorable := p.LessThan(vwap)
	if side == order.Sell {
		favorable = p.GreaterThan(vwap)
	}
	if !favorable {
		return fmt.Errorf("%w: %s %d vs vwap %s", ErrUnfavorablePrice, side.Label(), price, vwap.StringFixed(4))
	}
	return nil
}
