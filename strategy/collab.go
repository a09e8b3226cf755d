package strategy

import (
	"math/rand/v2"
	"time"
)

// RandSource [0,1) 均匀分布随机数，测试中替换为固定序列。
type RandSource interface {
	Float64() float64
}

// NewRandSource 返回 PCG 随机源；seed 为 0 时取当前时间。
func NewRandSource(seed uint64) RandSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// Params 报价参数，价格单位为 tick。
type Params struct {
	CollaborationRate float64 // 市价变动后仍然跟随市价的概率
	DefectionRate     float64 // 市价未动时改为抢一档的概率
	DefaultBid        int64   // 买盘为空时的替代价，同时是买价下界（不含）
	DefaultAsk        int64   // 卖盘为空时的替代价，同时是卖价上界（不含）
}

// Market 剔除自己挂单后的最优买卖价（已替换默认值）。
type Market struct {
	Bid int64
	Ask int64
}

// MarketWithDefaults 盘口某侧为空时使用默认价。
func MarketWithDefaults(bid int64, hasBid bool, ask int64, hasAsk bool, p Params) Market {
	m := Market{Bid: p.DefaultBid, Ask: p.DefaultAsk}
	if hasBid {
		m.Bid = bid
	}
	if hasAsk {
		m.Ask = ask
	}
	return m
}

// Own 自己当前挂着的最优买卖价。
type Own struct {
	Bid    int64
	HasBid bool
	Ask    int64
	HasAsk bool
}

// Memory 跨周期记忆：上一轮自己的报价与协作标记。Has* 为 false 表示未知。
type Memory struct {
	PrevBuy     int64
	HasPrevBuy  bool
	PrevSell    int64
	HasPrevSell bool
	BuyCollab   bool
	SellCollab  bool
}

// SetPrev 记录某侧上一轮报价。
func (m *Memory) SetPrev(buy bool, price int64) {
	if buy {
		m.PrevBuy, m.HasPrevBuy = price, true
		return
	}
	m.PrevSell, m.HasPrevSell = price, true
}

// ClearPrev 清除某侧上一轮报价。
func (m *Memory) ClearPrev(buy bool) {
	if buy {
		m.PrevBuy, m.HasPrevBuy = 0, false
		return
	}
	m.PrevSell, m.HasPrevSell = 0, false
}

// Targets 本轮目标报价与更新后的协作标记。
type Targets struct {
	Buy        int64
	Sell       int64
	BuyCollab  bool
	SellCollab bool
	Crossed    bool // 触发了交叉保护
}

// Collaborator 协作/背叛报价：市价稳定时倾向跟随（协作），
// 市价变动后倾向抢一档（背叛），概率由 Params 控制。
type Collaborator struct {
	rnd RandSource
}

// NewCollaborator rnd 为 nil 时使用 NewRandSource(0)。
func NewCollaborator(rnd RandSource) *Collaborator {
	if rnd == nil {
		rnd = NewRandSource(0)
	}
	return &Collaborator{rnd: rnd}
}

// Compute 计算本轮目标价。先抽买侧再抽卖侧，且只在有上一轮报价时抽样，
// 因此给定随机序列时结果确定。
func (c *Collaborator) Compute(p Params, m Market, own Own, mem Memory) Targets {
	buy, buyCollab := c.side(m.Bid, 1, own.Bid, own.HasBid, mem.PrevBuy, mem.HasPrevBuy, mem.BuyCollab, p)
	sell, sellCollab := c.side(m.Ask, -1, own.Ask, own.HasAsk, mem.PrevSell, mem.HasPrevSell, mem.SellCollab, p)

	t := Targets{Buy: buy, Sell: sell, BuyCollab: buyCollab, SellCollab: sellCollab}

	if t.Buy >= t.Sell {
		t.Buy, t.Sell = m.Bid, m.Ask
		t.Crossed = true
	}
	if t.Buy <= p.DefaultBid {
		t.Buy = p.DefaultBid + 1
	}
	if t.Sell >= p.DefaultAsk {
		t.Sell = p.DefaultAsk - 1
	}
	return t
}

// side 单侧计算；improve 为向价差内部改善一档的方向（买 +1，卖 -1）。
func (c *Collaborator) side(market, improve, resting int64, hasResting bool, prev int64, hasPrev, collab bool, p Params) (int64, bool) {
	target := resting
	if !hasResting {
		if collab {
			target = market
		} else {
			target = market + improve
		}
	}
	if !hasPrev {
		return target, collab
	}

	r := c.rnd.Float64()
	if prev == market {
		if r < p.DefectionRate {
			return market + improve, false
		}
		return market, true
	}
	if r < p.CollaborationRate {
		return market, false
	}
	return market + improve, false
}
