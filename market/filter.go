package market

// FilterNonSelf 去掉盘口中与自己挂单 (price, size) 完全相同的档位，得到"他人"视角的盘口。
//
// 盘口不带订单 id，只能按 (price, size) 匹配：第三方恰好与我方同价同量的档位也会被去掉。
// 这是已知的近似，保持原样。
func FilterNonSelf(book Book, own []Level) (bids, asks []Level) {
	mine := make(map[Level]struct{}, len(own))
	for _, l := range own {
		mine[l] = struct{}{}
	}
	return dropOwn(book.Bids, mine), dropOwn(book.Asks, mine)
}

func dropOwn(levels []Level, mine map[Level]struct{}) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if _, ok := mine[l]; ok {
			continue
		}
		out = append(out, l)
	}
	return out
}
