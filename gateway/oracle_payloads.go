package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"oracle-mm/market"
	"oracle-mm/order"
)

// 推送事件名
const (
	EventAuthenticate = "authenticate_socket"
	EventPosition     = "position_update"
	EventOpenOrders   = "open_orders_update"
	EventMarketData   = "md_update"
)

var ErrBadPayload = errors.New("bad payload")

// quantity 交易所数量/价格字段，接受 JSON 数字或数字字符串，必须是整数。
type quantity int64

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("%w: number %s", ErrBadPayload, b)
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("%w: non-integer quantity %s", ErrBadPayload, d)
	}
	*q = quantity(d.IntPart())
	return nil
}

// flexID 订单 id，交易所有时给数字有时给字符串。
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: order id %s", ErrBadPayload, b)
	}
	*f = flexID(n.String())
	return nil
}

type wirePosition struct {
	Symbol   string   `json:"symbol"`
	Position quantity `json:"position"`
}

// ParsePositions 解析 position_update（[{symbol, position}, ...]）。
// 列表里没有该交易对时视为空仓，found=false。
func ParsePositions(raw json.RawMessage, symbol string) (pos int64, found bool, err error) {
	var list []wirePosition
	if err := json.Unmarshal(raw, &list); err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrBadPayload, EventPosition, err)
	}
	for _, p := range list {
		if p.Symbol == symbol {
			return int64(p.Position), true, nil
		}
	}
	return 0, false, nil
}

type wireOrder struct {
	ID    flexID   `json:"id"`
	Side  string   `json:"side"`
	Price quantity `json:"price"`
	Size  quantity `json:"size"`
}

func (w wireOrder) toOpenOrder() (order.OpenOrder, error) {
	side, err := order.ParseSide(w.Side)
	if err != nil {
		return order.OpenOrder{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return order.OpenOrder{ID: string(w.ID), Side: side, Price: int64(w.Price), Size: int64(w.Size)}, nil
}

func convertOrders(list []wireOrder) ([]order.OpenOrder, error) {
	out := make([]order.OpenOrder, 0, len(list))
	for _, w := range list {
		o, err := w.toOpenOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ParseOpenOrders 解析 open_orders_update（{symbol: [orders]}），只取指定交易对。
func ParseOpenOrders(raw json.RawMessage, symbol string) ([]order.OpenOrder, error) {
	var bySymbol map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bySymbol); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, EventOpenOrders, err)
	}
	body, ok := bySymbol[symbol]
	if !ok || string(body) == "null" {
		return nil, nil
	}
	var list []wireOrder
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %s[%s]: %v", ErrBadPayload, EventOpenOrders, symbol, err)
	}
	return convertOrders(list)
}

// ParseOrderList 解析 REST 挂单查询结果：列表，或与推送相同的 {symbol: [...]}。
func ParseOrderList(raw []byte, symbol string) ([]order.OpenOrder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseOpenOrders(trimmed, symbol)
	}
	var list []wireOrder
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: open orders: %v", ErrBadPayload, err)
	}
	return convertOrders(list)
}

// MarketData md_update 中与本交易对相关的部分。Book/Tape 为 nil 表示本次推送未携带。
type MarketData struct {
	Symbol string
	Book   *market.Book
	Tape   market.Tape
	// HasTape 区分"未携带 tape"与"携带了空 tape"
	HasTape bool
}

type wireLevel struct {
	Price quantity `json:"price"`
	Size  quantity `json:"size"`
}

type wireTrade struct {
	Symbol string   `json:"symbol"`
	Price  quantity `json:"price"`
	Size   quantity `json:"size"`
}

// ParseMarketData 解析 md_update（{symbol, book: [bids, asks], tape: [...]}）。
// tape 中其他交易对的成交会被剔除。
func ParseMarketData(raw json.RawMessage) (MarketData, error) {
	var msg struct {
		Symbol string          `json:"symbol"`
		Book   json.RawMessage `json:"book"`
		Tape   json.RawMessage `json:"tape"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return MarketData{}, fmt.Errorf("%w: %s: %v", ErrBadPayload, EventMarketData, err)
	}
	md := MarketData{Symbol: msg.Symbol}

	if len(msg.Book) > 0 && string(msg.Book) != "null" {
		var sides [][]wireLevel
		if err := json.Unmarshal(msg.Book, &sides); err != nil {
			return MarketData{}, fmt.Errorf("%w: book: %v", ErrBadPayload, err)
		}
		if len(sides) != 2 {
			return MarketData{}, fmt.Errorf("%w: book has %d sides", ErrBadPayload, len(sides))
		}
		md.Book = &market.Book{Bids: toLevels(sides[0]), Asks: toLevels(sides[1])}
	}

	if len(msg.Tape) > 0 && string(msg.Tape) != "null" {
		var trades []wireTrade
		if err := json.Unmarshal(msg.Tape, &trades); err != nil {
			return MarketData{}, fmt.Errorf("%w: tape: %v", ErrBadPayload, err)
		}
		tape := make(market.Tape, 0, len(trades))
		for _, tr := range trades {
			tape = append(tape, market.Trade{Symbol: tr.Symbol, Price: int64(tr.Price), Size: int64(tr.Size)})
		}
		md.Tape = tape.ForSymbol(msg.Symbol)
		md.HasTape = true
	}
	return md, nil
}

func toLevels(in []wireLevel) []market.Level {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		out = append(out, market.Level{Price: int64(l.Price), Size: int64(l.Size)})
	}
	return out
}
