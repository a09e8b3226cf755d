package order

import (
	"fmt"
	"strings"

	"oracle-mm/market"
)

// Side 买卖方向，取值与交易所一致。
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// ParseSide 大小写不敏感解析方向（推送里是小写，下单接口要求首字母大写）。
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Label 用作日志/指标 label。
func (s Side) Label() string { return strings.ToLower(string(s)) }

// OpenOrder 交易所上仍在挂着的自有订单。
type OpenOrder struct {
	ID    string
	Side  Side
	Price int64
	Size  int64
}

// Orders 自有挂单集合（仅被监听的交易对），按 id 唯一。
type Orders []OpenOrder

// NewOrders 按 id 去重，同 id 后出现的覆盖先出现的，保持首次出现的顺序。
func NewOrders(list []OpenOrder) Orders {
	idx := make(map[string]int, len(list))
	out := make(Orders, 0, len(list))
	for _, o := range list {
		if o.ID != "" {
			if i, ok := idx[o.ID]; ok {
				out[i] = o
				continue
			}
			idx[o.ID] = len(out)
		}
		out = append(out, o)
	}
	return out
}

// Clone 拷贝一份。
func (oo Orders) Clone() Orders {
	return append(Orders(nil), oo...)
}

// OnSide 返回指定方向的挂单。
func (oo Orders) OnSide(side Side) []OpenOrder {
	var out []OpenOrder
	for _, o := range oo {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

// Total 指定方向挂单总量。
func (oo Orders) Total(side Side) int64 {
	return TotalSize(oo.OnSide(side))
}

// BestPrice 自己在该方向最有竞争力的价格：买取最高，卖取最低。
func (oo Orders) BestPrice(side Side) (int64, bool) {
	return BestPrice(oo.OnSide(side), side)
}

// Levels 转成 (price, size) 档位，用于从盘口中剔除自己的挂单。
func (oo Orders) Levels() []market.Level {
	out := make([]market.Level, 0, len(oo))
	for _, o := range oo {
		out = append(out, market.Level{Price: o.Price, Size: o.Size})
	}
	return out
}

// TotalSize 汇总数量。
func TotalSize(list []OpenOrder) int64 {
	var total int64
	for _, o := range list {
		total += o.Size
	}
	return total
}

// BestPrice 同 Orders.BestPrice，作用于已按方向筛过的列表。
func BestPrice(list []OpenOrder, side Side) (int64, bool) {
	if len(list) == 0 {
		return 0, false
	}
	best := list[0].Price
	for _, o := range list[1:] {
		if side == Buy && o.Price > best {
			best = o.Price
		}
		if side == Sell && o.Price < best {
			best = o.Price
		}
	}
	return best, true
}
