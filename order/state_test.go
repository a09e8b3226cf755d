package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-mm/market"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "BUY": Buy, " Sell ": Sell, "sell": Sell} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSide("hold")
	assert.Error(t, err)
	assert.Equal(t, "buy", Buy.Label())
}

func TestNewOrdersDeduplicatesByID(t *testing.T) {
	oo := NewOrders([]OpenOrder{
		{ID: "a", Side: Buy, Price: 99, Size: 10},
		{ID: "b", Side: Sell, Price: 105, Size: 10},
		{ID: "a", Side: Buy, Price: 99, Size: 4},
	})
	require.Len(t, oo, 2)
	assert.Equal(t, "a", oo[0].ID)
	assert.Equal(t, int64(4), oo[0].Size)
}

func TestOrdersAggregates(t *testing.T) {
	oo := Orders{
		{ID: "1", Side: Buy, Price: 99, Size: 10},
		{ID: "2", Side: Buy, Price: 100, Size: 5},
		{ID: "3", Side: Sell, Price: 106, Size: 7},
		{ID: "4", Side: Sell, Price: 105, Size: 3},
	}
	assert.Equal(t, int64(15), oo.Total(Buy))
	assert.Equal(t, int64(10), oo.Total(Sell))

	p, ok := oo.BestPrice(Buy)
	require.True(t, ok)
	assert.Equal(t, int64(100), p)
	p, ok = oo.BestPrice(Sell)
	require.True(t, ok)
	assert.Equal(t, int64(105), p)

	_, ok = Orders{}.BestPrice(Buy)
	assert.False(t, ok)

	assert.Contains(t, oo.Levels(), market.Level{Price: 106, Size: 7})
}

func TestOrdersCloneIsIndependent(t *testing.T) {
	oo := Orders{{ID: "1", Side: Buy, Price: 99, Size: 10}}
	cp := oo.Clone()
	cp[0].Size = 1
	assert.Equal(t, int64(10), oo[0].Size)
}
