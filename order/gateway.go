package order

import (
	"context"
	"errors"
)

// AckStatus 下单回执状态。
type AckStatus string

const (
	StatusAck      AckStatus = "Ack"
	StatusRejected AckStatus = "Rejected"
)

// PlaceRequest 一次限价下单。
type PlaceRequest struct {
	Symbol      string
	Side        Side
	Price       int64
	Size        int64
	TimeInForce string // Day / IOC
}

// Ack 同步回执；Status 非 Ack 时 Reason 为交易所给出的原因。
type Ack struct {
	Status  AckStatus
	Reason  string
	OrderID string
}

// Accepted 是否被交易所接受。
func (a Ack) Accepted() bool { return a.Status == StatusAck }

// Gateway 下单/撤单抽象，具体实现见 gateway 包。
type Gateway interface {
	Place(ctx context.Context, req PlaceRequest) (Ack, error)
	Cancel(ctx context.Context, orderID string) error
}

// OrderSource 读取最新挂单快照（通常是状态缓存）。
type OrderSource interface {
	Orders(ctx context.Context) (Orders, error)
}

var (
	ErrRejected         = errors.New("order rejected")
	ErrCancelIncomplete = errors.New("orders still resting after cancel rounds")
)
