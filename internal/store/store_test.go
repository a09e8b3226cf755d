package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-mm/market"
	"oracle-mm/order"
)

type recordingGauges struct {
	mu       sync.Mutex
	position float64
	bid, ask float64
	open     map[string]int
}

func (g *recordingGauges) UpdatePosition(v float64) {
	g.mu.Lock()
	g.position = v
	g.mu.Unlock()
}

func (g *recordingGauges) UpdateBidAsk(bid, ask float64) {
	g.mu.Lock()
	g.bid, g.ask = bid, ask
	g.mu.Unlock()
}

func (g *recordingGauges) UpdateOpenOrders(side string, n int) {
	g.mu.Lock()
	if g.open == nil {
		g.open = map[string]int{}
	}
	g.open[side] = n
	g.mu.Unlock()
}

func TestReadBlocksUntilFirstSet(t *testing.T) {
	st := New("LOAN", nil, nil)
	assert.False(t, st.Ready(KindPosition))

	got := make(chan int64, 1)
	go func() {
		pos, err := st.Position(context.Background())
		if err == nil {
			got <- pos
		}
	}()

	select {
	case <-got:
		t.Fatal("read returned before any position push")
	case <-time.After(30 * time.Millisecond):
	}

	st.SetPosition(-42)
	select {
	case pos := <-got:
		assert.Equal(t, int64(-42), pos)
	case <-time.After(time.Second):
		t.Fatal("reader not released after set")
	}
	assert.True(t, st.Ready(KindPosition))
	assert.False(t, st.Ready(KindBook), "kinds become ready independently")
}

func TestReadHonoursContext(t *testing.T) {
	st := New("LOAN", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := st.Book(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadyIsMonotonic(t *testing.T) {
	st := New("LOAN", nil, nil)
	st.SetOrders([]order.OpenOrder{{ID: "1", Side: order.Buy, Price: 99, Size: 10}})
	st.SetOrders(nil)
	assert.True(t, st.Ready(KindOrders), "an empty push is still a push")

	orders, err := st.Orders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSetReplacesWholesale(t *testing.T) {
	st := New("LOAN", nil, nil)
	ctx := context.Background()

	st.SetTrades(market.Tape{{Symbol: "LOAN", Price: 50, Size: 10}, {Symbol: "LOAN", Price: 51, Size: 5}})
	st.SetTrades(market.Tape{{Symbol: "LOAN", Price: 52, Size: 1}})
	tape, err := st.Trades(ctx)
	require.NoError(t, err)
	assert.Equal(t, market.Tape{{Symbol: "LOAN", Price: 52, Size: 1}}, tape, "tape is not accumulated")

	st.SetBook(market.Book{Bids: []market.Level{{Price: 50, Size: 1}}, Asks: []market.Level{{Price: 55, Size: 1}}})
	st.SetBook(market.Book{Bids: []market.Level{{Price: 49, Size: 2}}})
	book, err := st.Book(ctx)
	require.NoError(t, err)
	assert.Equal(t, []market.Level{{Price: 49, Size: 2}}, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	st := New("LOAN", nil, nil)
	ctx := context.Background()

	in := []order.OpenOrder{{ID: "1", Side: order.Buy, Price: 99, Size: 10}}
	st.SetOrders(in)
	in[0].Size = 1 // 调用方后续修改不影响缓存

	got, err := st.Orders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got[0].Size)

	got[0].Size = 7
	again, _ := st.Orders(ctx)
	assert.Equal(t, int64(10), again[0].Size)

	book := market.Book{Bids: []market.Level{{Price: 50, Size: 1}}}
	st.SetBook(book)
	book.Bids[0].Price = 1
	cached, _ := st.Book(ctx)
	assert.Equal(t, int64(50), cached.Bids[0].Price)
}

func TestSnapshotWaitsForEveryKind(t *testing.T) {
	st := New("LOAN", nil, nil)
	st.SetPosition(5)
	st.SetOrders(nil)
	st.SetBook(market.Book{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := st.Snapshot(ctx)
	require.Error(t, err, "trades never arrived")

	st.SetTrades(market.Tape{{Symbol: "LOAN", Price: 52, Size: 1}})
	snap, err := st.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Position)
	assert.Len(t, snap.Trades, 1)
}

func TestWaitUnknownKind(t *testing.T) {
	st := New("LOAN", nil, nil)
	err := st.Wait(context.Background(), Kind(9))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, st.Ready(Kind(-1)))
	assert.Equal(t, "trades", KindTrades.String())
}

func TestSettersUpdateGaugesAndSink(t *testing.T) {
	g := &recordingGauges{}
	var mu sync.Mutex
	events := map[string]int{}
	sink := func(ev string, _ map[string]interface{}) {
		mu.Lock()
		events[ev]++
		mu.Unlock()
	}
	st := New("LOAN", g, sink)

	st.SetPosition(300)
	st.SetPosition(400)
	st.SetOrders([]order.OpenOrder{
		{ID: "1", Side: order.Buy, Price: 99, Size: 10},
		{ID: "2", Side: order.Sell, Price: 105, Size: 10},
		{ID: "3", Side: order.Sell, Price: 106, Size: 10},
	})
	st.SetBook(market.Book{
		Bids: []market.Level{{Price: 49, Size: 1}, {Price: 50, Size: 1}},
		Asks: []market.Level{{Price: 56, Size: 1}, {Price: 55, Size: 1}},
	})

	assert.Equal(t, 400.0, g.position)
	assert.Equal(t, 50.0, g.bid)
	assert.Equal(t, 55.0, g.ask)
	assert.Equal(t, map[string]int{"buy": 1, "sell": 2}, g.open)

	assert.Equal(t, 2, events["position_update"])
	assert.Equal(t, 1, events["orders_update"])
	assert.Equal(t, 3, events["state_ready"], "ready fires once per kind")
}

func TestStoreSatisfiesOrderSource(t *testing.T) {
	var _ order.OrderSource = New("LOAN", nil, nil)
}

func TestRefreshOrdersRequiresPriorPush(t *testing.T) {
	s := New("LOAN", nil, nil)
	snap := []order.OpenOrder{{ID: "r1", Side: order.Sell, Price: 55, Size: 10}}

	assert.False(t, s.RefreshOrders(snap))
	assert.False(t, s.Ready(KindOrders), "snapshot alone never populates")

	s.SetOrders([]order.OpenOrder{{ID: "r0", Side: order.Buy, Price: 50, Size: 10}})
	assert.True(t, s.RefreshOrders(snap))
	orders, err := s.Orders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, order.Orders{{ID: "r1", Side: order.Sell, Price: 55, Size: 10}}, orders)
}
