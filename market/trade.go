package market

import "github.com/shopspring/decimal"

// Trade 一笔成交回报。
type Trade struct {
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"`
	Size   int64  `json:"size"`
}

// Tape 最近一次推送的成交列表；不累计历史。
type Tape []Trade

// Clone 拷贝一份。
func (t Tape) Clone() Tape {
	return append(Tape(nil), t...)
}

// ForSymbol 只保留指定交易对的成交。
func (t Tape) ForSymbol(symbol string) Tape {
	out := make(Tape, 0, len(t))
	for _, tr := range t {
		if tr.Symbol == symbol {
			out = append(out, tr)
		}
	}
	return out
}

// VWAP 按数量加权的平均成交价；总量为 0 时 ok=false。
func (t Tape) VWAP() (decimal.Decimal, bool) {
	notional := decimal.Zero
	volume := decimal.Zero
	for _, tr := range t {
		if tr.Size <= 0 {
			continue
		}
		size := decimal.NewFromInt(tr.Size)
		notional = notional.Add(decimal.NewFromInt(tr.Price).Mul(size))
		volume = volume.Add(size)
	}
	if volume.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(volume), true
}
