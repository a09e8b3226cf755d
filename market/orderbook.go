package market

// Level 盘口一档：价格与数量，单位为交易所最小 tick/lot。
type Level struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
}

// Book 整份盘口快照，每次推送整体替换，不做增量合并。
type Book struct {
	Bids []Level
	Asks []Level
}

// Clone 深拷贝，读者拿到的切片与缓存互不影响。
func (b Book) Clone() Book {
	return Book{
		Bids: append([]Level(nil), b.Bids...),
		Asks: append([]Level(nil), b.Asks...),
	}
}

// BestBid 返回最高买价；不依赖推送顺序。
func BestBid(levels []Level) (int64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if l.Price > best {
			best = l.Price
		}
	}
	return best, true
}

// BestAsk 返回最低卖价。
func BestAsk(levels []Level) (int64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if l.Price < best {
			best = l.Price
		}
	}
	return best, true
}

// Best 返回整本盘口的最优买/卖价。
func (b Book) Best() (bid int64, hasBid bool, ask int64, hasAsk bool) {
	bid, hasBid = BestBid(b.Bids)
	ask, hasAsk = BestAsk(b.Asks)
	return
}
