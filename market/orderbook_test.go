package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBestIgnoresArrivalOrder(t *testing.T) {
	b := Book{
		Bids: []Level{{Price: 48, Size: 1}, {Price: 50, Size: 2}, {Price: 49, Size: 3}},
		Asks: []Level{{Price: 57, Size: 1}, {Price: 55, Size: 2}},
	}
	bid, hasBid, ask, hasAsk := b.Best()
	assert.True(t, hasBid)
	assert.True(t, hasAsk)
	assert.Equal(t, int64(50), bid)
	assert.Equal(t, int64(55), ask)
}

func TestBestEmptySides(t *testing.T) {
	_, hasBid, _, hasAsk := Book{}.Best()
	assert.False(t, hasBid)
	assert.False(t, hasAsk)
}

func TestCloneIsIndependent(t *testing.T) {
	b := Book{Bids: []Level{{Price: 1, Size: 1}}}
	c := b.Clone()
	c.Bids[0].Price = 99
	assert.Equal(t, int64(1), b.Bids[0].Price)
}
