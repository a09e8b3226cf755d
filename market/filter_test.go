package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterNonSelfRemovesOwnLevels(t *testing.T) {
	book := Book{
		Bids: []Level{{Price: 51, Size: 1000}, {Price: 50, Size: 300}},
		Asks: []Level{{Price: 54, Size: 1000}, {Price: 55, Size: 200}},
	}
	own := []Level{{Price: 51, Size: 1000}, {Price: 54, Size: 1000}}

	bids, asks := FilterNonSelf(book, own)
	assert.Equal(t, []Level{{Price: 50, Size: 300}}, bids)
	assert.Equal(t, []Level{{Price: 55, Size: 200}}, asks)
}

func TestFilterNonSelfMatchesPriceAndSizeOnly(t *testing.T) {
	// 同价不同量保留
	book := Book{Bids: []Level{{Price: 51, Size: 999}}}
	bids, _ := FilterNonSelf(book, []Level{{Price: 51, Size: 1000}})
	assert.Equal(t, book.Bids, bids)
}

// 已知近似：第三方档位恰好与我方 (price, size) 相同，也会被当作自己的挂单过滤掉。
func TestFilterNonSelfDropsCoincidentThirdPartyLevel(t *testing.T) {
	book := Book{Bids: []Level{{Price: 51, Size: 10}, {Price: 51, Size: 10}, {Price: 50, Size: 5}}}
	bids, _ := FilterNonSelf(book, []Level{{Price: 51, Size: 10}})
	assert.Equal(t, []Level{{Price: 50, Size: 5}}, bids)
}

func TestFilterNonSelfPartition(t *testing.T) {
	book := Book{
		Bids: []Level{{49, 1}, {50, 2}, {50, 3}, {48, 2}, {50, 2}},
		Asks: []Level{{55, 1}, {56, 2}, {55, 1}},
	}
	own := []Level{{50, 2}, {55, 1}, {70, 9}}
	mine := map[Level]bool{}
	for _, l := range own {
		mine[l] = true
	}

	bids, asks := FilterNonSelf(book, own)
	for side, pair := range map[string][2][]Level{"bids": {book.Bids, bids}, "asks": {book.Asks, asks}} {
		orig, kept := pair[0], pair[1]
		var removed []Level
		for _, l := range orig {
			if mine[l] {
				removed = append(removed, l)
			}
		}
		for _, l := range kept {
			assert.False(t, mine[l], "%s kept own level %+v", side, l)
		}
		// kept + removed 恰好等于原始档位（按多重集比较）
		assert.ElementsMatch(t, orig, append(append([]Level(nil), kept...), removed...), side)
	}
}
