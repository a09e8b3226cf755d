package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oracle-mm/gateway"
	"oracle-mm/infrastructure/logger"
	"oracle-mm/market"
	"oracle-mm/order"
)

// EventConn 一条推送连接，gateway.SocketIOConn 实现。
type EventConn interface {
	Emit(event string, payload interface{}) error
	Next() (gateway.Event, error)
	Close() error
}

// DialFunc 建立一条已握手的推送连接。
type DialFunc func(ctx context.Context) (EventConn, error)

// SocketIODialer 连接交易所 Socket.IO 端点。
func SocketIODialer(wsURL string, dialer *websocket.Dialer) DialFunc {
	return func(ctx context.Context) (EventConn, error) {
		return gateway.DialSocketIO(ctx, wsURL, dialer)
	}
}

// StateSink 推送落地的位置，store.Store 实现。
type StateSink interface {
	SetPosition(pos int64)
	SetOrders(list []order.OpenOrder)
	RefreshOrders(list []order.OpenOrder) bool
	SetBook(book market.Book)
	SetTrades(tape market.Tape)
}

// OrderSnapshotter 重连后用 REST 拉一次挂单快照，补上断线期间漏掉的变化。
// gateway.OracleRESTClient 实现。
type OrderSnapshotter interface {
	OpenOrders(ctx context.Context, symbol string) ([]order.OpenOrder, error)
}

// FeedRecorder 推送通道指标，monitor.Monitor 实现。
type FeedRecorder interface {
	RecordWSConnection()
	RecordWSDisconnect()
	RecordFeedMessage(event string)
	RecordFeedDropped(event string)
}

type noopFeedRecorder struct{}

func (noopFeedRecorder) RecordWSConnection()      {}
func (noopFeedRecorder) RecordWSDisconnect()      {}
func (noopFeedRecorder) RecordFeedMessage(string) {}
func (noopFeedRecorder) RecordFeedDropped(string) {}

// FeedConfig 推送通道配置
type FeedConfig struct {
	Symbol           string
	APIKey           string
	Account          string
	ReconnectBackoff time.Duration // 断线后固定间隔重连
}

// OracleFeed 管理交易所推送：连接、认证订阅、按交易对过滤后写入状态缓存，断线无限重连。
// 决策循环感知不到重连，只会在下一次推送前读到旧数据。
type OracleFeed struct {
	cfg      FeedConfig
	dial     DialFunc
	sink     StateSink
	snapshot OrderSnapshotter
	log      *logger.Logger
	rec      FeedRecorder

	mu          sync.Mutex
	connected   bool
	eventSink   func(string, map[string]interface{})
	onConnected func()
}

func NewOracleFeed(cfg FeedConfig, dial DialFunc, sink StateSink, log *logger.Logger, rec FeedRecorder) *OracleFeed {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	if rec == nil {
		rec = noopFeedRecorder{}
	}
	return &OracleFeed{cfg: cfg, dial: dial, sink: sink, log: log, rec: rec}
}

// SetSnapshotter 设置后每次（重）连接先用 REST 同步一次挂单。
func (f *OracleFeed) SetSnapshotter(s OrderSnapshotter) {
	f.snapshot = s
}

// SetEventSink 设置事件回调（例如记录连接状态）
func (f *OracleFeed) SetEventSink(fn func(string, map[string]interface{})) {
	f.mu.Lock()
	f.eventSink = fn
	f.mu.Unlock()
}

// SetOnConnected 每次订阅完成后回调。
func (f *OracleFeed) SetOnConnected(fn func()) {
	f.mu.Lock()
	f.onConnected = fn
	f.mu.Unlock()
}

// Connected 当前是否有可用连接。
func (f *OracleFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Run 阻塞运行直到 ctx 结束；传输错误只记录并重连，从不向上返回。
func (f *OracleFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.LogFeed("ws_reconnect_scheduled", map[string]interface{}{
			"error":   errString(err),
			"backoff": f.cfg.ReconnectBackoff.String(),
		})
		t := time.NewTimer(f.cfg.ReconnectBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session 一次完整连接：拨号、快照、订阅、读取直到断开。
func (f *OracleFeed) session(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}

	// ctx 结束时关闭连接以打断阻塞中的 Next
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	f.setConnected(true)
	f.rec.RecordWSConnection()
	f.log.LogFeed("ws_connected", map[string]interface{}{"symbol": f.cfg.Symbol})
	f.emitEvent("ws_connected", map[string]interface{}{"symbol": f.cfg.Symbol})
	defer func() {
		f.setConnected(false)
		f.rec.RecordWSDisconnect()
		f.log.LogFeed("ws_disconnected", map[string]interface{}{"symbol": f.cfg.Symbol})
		f.emitEvent("ws_disconnected", map[string]interface{}{})
	}()

	// 先拉 REST 快照再订阅，随后到达的推送总是更新
	if f.snapshot != nil {
		if err := f.syncOrders(ctx); err != nil {
			f.log.Warn("open orders snapshot failed", zap.Error(err))
		}
	}

	if err := f.subscribe(conn); err != nil {
		return err
	}

	f.mu.Lock()
	cb := f.onConnected
	f.mu.Unlock()
	if cb != nil {
		cb()
	}

	for {
		ev, err := conn.Next()
		if err != nil {
			if errors.Is(err, gateway.ErrMalformedPacket) {
				f.rec.RecordFeedDropped("malformed")
				f.log.Warn("dropping malformed packet", zap.Error(err))
				continue
			}
			return err
		}
		if err := f.Handle(ev); err != nil {
			f.rec.RecordFeedDropped(ev.Name)
			f.log.Warn("dropping feed message",
				zap.String("event", ev.Name),
				zap.Error(err))
		}
	}
}

func (f *OracleFeed) subscribe(conn EventConn) error {
	subs := []struct {
		event   string
		payload interface{}
	}{
		{gateway.EventAuthenticate, map[string]string{"apiKey": f.cfg.APIKey, "account": f.cfg.Account}},
		{gateway.EventPosition, map[string]string{}},
		{gateway.EventOpenOrders, map[string]string{}},
		{gateway.EventMarketData, map[string]string{"symbol": f.cfg.Symbol}},
	}
	for _, s := range subs {
		if err := conn.Emit(s.event, s.payload); err != nil {
			return fmt.Errorf("emit %s: %w", s.event, err)
		}
	}
	return nil
}

func (f *OracleFeed) syncOrders(ctx context.Context) error {
	orders, err := f.snapshot.OpenOrders(ctx, f.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("query open orders: %w", err)
	}
	applied := f.sink.RefreshOrders(orders)
	f.log.LogFeed("orders_synced", map[string]interface{}{
		"symbol":  f.cfg.Symbol,
		"count":   len(orders),
		"applied": applied,
	})
	return nil
}

// Handle 解析一条推送并写入缓存；只处理被监听的交易对。
// 返回 error 表示协议错误，该消息被丢弃、缓存保持原值。
func (f *OracleFeed) Handle(ev gateway.Event) error {
	switch ev.Name {
	case gateway.EventPosition:
		pos, _, err := gateway.ParsePositions(ev.Data, f.cfg.Symbol)
		if err != nil {
			return err
		}
		// 列表中没有该交易对视为空仓
		f.sink.SetPosition(pos)
	case gateway.EventOpenOrders:
		orders, err := gateway.ParseOpenOrders(ev.Data, f.cfg.Symbol)
		if err != nil {
			return err
		}
		f.sink.SetOrders(orders)
	case gateway.EventMarketData:
		md, err := gateway.ParseMarketData(ev.Data)
		if err != nil {
			return err
		}
		if md.Symbol != f.cfg.Symbol {
			return nil
		}
		if md.Book != nil {
			f.sink.SetBook(*md.Book)
		}
		if md.HasTape {
			f.sink.SetTrades(md.Tape)
		}
	default:
		f.log.Debug("ignoring feed event", zap.String("event", ev.Name))
		return nil
	}
	f.rec.RecordFeedMessage(ev.Name)
	return nil
}

func (f *OracleFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *OracleFeed) emitEvent(event string, fields map[string]interface{}) {
	f.mu.Lock()
	fn := f.eventSink
	f.mu.Unlock()
	if fn != nil {
		fn(event, fields)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
