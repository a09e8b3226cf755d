package engine

import (
	"sync/atomic"
	"time"

	"oracle-mm/risk"
	"oracle-mm/strategy"
)

// Params 每个周期开始时读取的一组参数，可热更新。
type Params struct {
	Quote           strategy.Params
	OrderSize       int64
	Risk            risk.Thresholds
	CycleInterval   time.Duration // 两个周期之间的间隔
	PaceDelay       time.Duration // 买卖两侧动作之后的停顿
	CancelPace      time.Duration
	MaxCancelRounds int
}

// ParamSource 原子替换的参数快照，配置监听协程写、决策循环读。
type ParamSource struct {
	v atomic.Pointer[Params]
}

func NewParamSource(p Params) *ParamSource {
	s := &ParamSource{}
	s.Store(p)
	return s
}

// Load 返回当前参数的副本。
func (s *ParamSource) Load() Params {
	return *s.v.Load()
}

// Store 整体替换参数。
func (s *ParamSource) Store(p Params) {
	s.v.Store(&p)
}
