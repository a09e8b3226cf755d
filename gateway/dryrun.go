package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"oracle-mm/infrastructure/logger"
	"oracle-mm/order"
)

// DryRunGateway 只记录日志、不发网络请求的网关，用于联调行情与决策逻辑。
// 挂单不会出现在推送里，所以每轮都会走"重挂"分支。
type DryRunGateway struct {
	log *logger.Logger

	mu       sync.Mutex
	placed   int
	canceled int
}

func NewDryRunGateway(log *logger.Logger) *DryRunGateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &DryRunGateway{log: log}
}

// Place 总是返回 Ack，订单 id 为随机 uuid。
func (d *DryRunGateway) Place(_ context.Context, req order.PlaceRequest) (order.Ack, error) {
	id := uuid.NewString()
	d.mu.Lock()
	d.placed++
	d.mu.Unlock()
	d.log.LogOrder("dry_run_place", id, map[string]interface{}{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"price":  req.Price,
		"size":   req.Size,
		"tif":    req.TimeInForce,
	})
	return order.Ack{Status: order.StatusAck, OrderID: id}, nil
}

// Cancel 只记录。
func (d *DryRunGateway) Cancel(_ context.Context, orderID string) error {
	d.mu.Lock()
	d.canceled++
	d.mu.Unlock()
	d.log.LogOrder("dry_run_cancel", orderID, nil)
	return nil
}

// Counts 返回累计下单/撤单次数。
func (d *DryRunGateway) Counts() (placed, canceled int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.placed, d.canceled
}
