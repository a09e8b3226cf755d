package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"oracle-mm/market"
	"oracle-mm/order"
)

// Kind 缓存的数据种类。
type Kind int

const (
	KindPosition Kind = iota
	KindOrders
	KindBook
	KindTrades
	numKinds
)

// AllKinds 全部种类，按首次读取的习惯顺序排列。
var AllKinds = []Kind{KindPosition, KindOrders, KindBook, KindTrades}

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindOrders:
		return "orders"
	case KindBook:
		return "book"
	case KindTrades:
		return "trades"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) valid() bool { return k >= 0 && k < numKinds }

var ErrUnknownKind = errors.New("unknown state kind")

// EventSink 结构化事件回调，通常接到日志。
type EventSink func(string, map[string]interface{})

// Gauges 写入时同步刷新的监控指标，由 monitor.Monitor 实现。
type Gauges interface {
	UpdatePosition(value float64)
	UpdateBidAsk(bid, ask float64)
	UpdateOpenOrders(side string, count int)
}

// Snapshot 一次性读取的四类状态。
type Snapshot struct {
	Position int64
	Orders   order.Orders
	Book     market.Book
	Trades   market.Tape
}

// Store 单交易对的状态缓存：推送协程写，决策循环读。
// 每类数据整体覆盖，不做合并；首次写入前读取会阻塞，之后永不阻塞。
type Store struct {
	Symbol string

	mu       sync.RWMutex
	position int64
	orders   order.Orders
	book     market.Book
	trades   market.Tape

	ready [numKinds]chan struct{}
	once  [numKinds]sync.Once

	gauges Gauges
	sink   EventSink
}

// New gauges 与 sink 均可为 nil。
func New(symbol string, gauges Gauges, sink EventSink) *Store {
	s := &Store{Symbol: symbol, gauges: gauges, sink: sink}
	for i := range s.ready {
		s.ready[i] = make(chan struct{})
	}
	return s
}

func (s *Store) markReady(k Kind) {
	s.once[k].Do(func() {
		close(s.ready[k])
		s.logEvent("state_ready", map[string]interface{}{
			"symbol": s.Symbol,
			"kind":   k.String(),
		})
	})
}

// Ready 该种类是否已至少写入过一次。
func (s *Store) Ready(k Kind) bool {
	if !k.valid() {
		return false
	}
	select {
	case <-s.ready[k]:
		return true
	default:
		return false
	}
}

// Wait 阻塞直到该种类首次写入或 ctx 结束。
func (s *Store) Wait(ctx context.Context, k Kind) error {
	if !k.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	select {
	case <-s.ready[k]:
		return nil
	default:
	}
	select {
	case <-s.ready[k]:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait %s: %w", k, ctx.Err())
	}
}

// WaitAll 逐个等待四类数据，各类首次到达的先后顺序不作保证。
func (s *Store) WaitAll(ctx context.Context) error {
	for _, k := range AllKinds {
		if err := s.Wait(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// SetPosition 覆盖净仓位。
func (s *Store) SetPosition(pos int64) {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
	s.markReady(KindPosition)

	if s.gauges != nil {
		s.gauges.UpdatePosition(float64(pos))
	}
	s.logEvent("position_update", map[string]interface{}{
		"symbol":   s.Symbol,
		"position": pos,
	})
}

// SetOrders 整体替换自有挂单，入参会被拷贝。
func (s *Store) SetOrders(list []order.OpenOrder) {
	orders := order.NewOrders(list)
	s.mu.Lock()
	s.orders = orders
	s.mu.Unlock()
	s.markReady(KindOrders)

	buys, sells := len(orders.OnSide(order.Buy)), len(orders.OnSide(order.Sell))
	if s.gauges != nil {
		s.gauges.UpdateOpenOrders(order.Buy.Label(), buys)
		s.gauges.UpdateOpenOrders(order.Sell.Label(), sells)
	}
	s.logEvent("orders_update", map[string]interface{}{
		"symbol": s.Symbol,
		"buys":   buys,
		"sells":  sells,
	})
}

// RefreshOrders 用 REST 快照替换挂单，但只在收到过挂单推送之后生效；
// 首次推送之前不标记就绪，返回是否已应用。
func (s *Store) RefreshOrders(list []order.OpenOrder) bool {
	if !s.Ready(KindOrders) {
		return false
	}
	s.SetOrders(list)
	return true
}

// SetBook 整体替换盘口。
func (s *Store) SetBook(book market.Book) {
	book = book.Clone()
	s.mu.Lock()
	s.book = book
	s.mu.Unlock()
	s.markReady(KindBook)

	if s.gauges != nil {
		bid, _, ask, _ := book.Best()
		s.gauges.UpdateBidAsk(float64(bid), float64(ask))
	}
}

// SetTrades 整体替换成交列表，不累计历史。
func (s *Store) SetTrades(tape market.Tape) {
	tape = tape.Clone()
	s.mu.Lock()
	s.trades = tape
	s.mu.Unlock()
	s.markReady(KindTrades)
}

// Position 当前净仓位，首次写入前阻塞。
func (s *Store) Position(ctx context.Context) (int64, error) {
	if err := s.Wait(ctx, KindPosition); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position, nil
}

// Orders 自有挂单副本，首次写入前阻塞。
func (s *Store) Orders(ctx context.Context) (order.Orders, error) {
	if err := s.Wait(ctx, KindOrders); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.Clone(), nil
}

// Book 盘口副本，首次写入前阻塞。
func (s *Store) Book(ctx context.Context) (market.Book, error) {
	if err := s.Wait(ctx, KindBook); err != nil {
		return market.Book{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Clone(), nil
}

// Trades 成交列表副本，首次写入前阻塞。
func (s *Store) Trades(ctx context.Context) (market.Tape, error) {
	if err := s.Wait(ctx, KindTrades); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Clone(), nil
}

// Snapshot 等待四类数据都到齐后，在同一把读锁下拷贝一份。
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := s.WaitAll(ctx); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Position: s.position,
		Orders:   s.orders.Clone(),
		Book:     s.book.Clone(),
		Trades:   s.trades.Clone(),
	}, nil
}

func (s *Store) logEvent(event string, fields map[string]interface{}) {
	if s == nil || s.sink == nil {
		return
	}
	s.sink(event, fields)
}
