package store

import (
	"context"
	"sync"
	"testing"

	"oracle-mm/market"
	"oracle-mm/order"
)

// TestStore_ConcurrentWritersSingleReader 推送协程并发写、决策循环读，读者不能看到拼接出来的集合。
// 用 go test -race 运行。
func TestStore_ConcurrentWritersSingleReader(t *testing.T) {
	st := New("LOAN", nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	operations := 200

	// 每次写入的订单集合里所有挂单 Size 都等于同一个值
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				size := int64(worker*operations + j + 1)
				st.SetOrders([]order.OpenOrder{
					{ID: "a", Side: order.Buy, Price: 99, Size: size},
					{ID: "b", Side: order.Sell, Price: 105, Size: size},
				})
				st.SetBook(market.Book{
					Bids: []market.Level{{Price: 50, Size: size}, {Price: 49, Size: size}},
					Asks: []market.Level{{Price: 55, Size: size}},
				})
				st.SetPosition(size)
				st.SetTrades(market.Tape{{Symbol: "LOAN", Price: 52, Size: size}})
			}
		}(w)
	}

	errs := make(chan string, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < operations; j++ {
			snap, err := st.Snapshot(ctx)
			if err != nil {
				select {
				case errs <- err.Error():
				default:
				}
				return
			}
			if len(snap.Orders) == 2 && snap.Orders[0].Size != snap.Orders[1].Size {
				select {
				case errs <- "torn orders collection":
				default:
				}
			}
			if len(snap.Book.Bids) == 2 && snap.Book.Bids[0].Size != snap.Book.Bids[1].Size {
				select {
				case errs <- "torn book":
				default:
				}
			}
		}
	}()

	wg.Wait()
	close(errs)
	if msg, ok := <-errs; ok {
		t.Fatalf("concurrent read failed: %s", msg)
	}
}

// TestStore_ManyWaitersReleased 多个读者同时阻塞在首次读取上，一次写入全部放行。
func TestStore_ManyWaitersReleased(t *testing.T) {
	st := New("LOAN", nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Trades(context.Background()); err != nil {
				t.Errorf("trades: %v", err)
			}
		}()
	}
	st.SetTrades(nil)
	wg.Wait()
}
