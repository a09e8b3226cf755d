package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestVWAP(t *testing.T) {
	tape := Tape{
		{Symbol: "LOAN", Price: 50, Size: 100},
		{Symbol: "LOAN", Price: 54, Size: 100},
		{Symbol: "LOAN", Price: 60, Size: 0},
	}
	v, ok := tape.VWAP()
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(52)), "got %s", v)
}

func TestVWAPFractional(t *testing.T) {
	tape := Tape{{Price: 101, Size: 1}, {Price: 102, Size: 2}}
	v, ok := tape.VWAP()
	assert.True(t, ok)
	// 305/3
	assert.True(t, v.GreaterThan(decimal.NewFromInt(101)))
	assert.True(t, v.LessThan(decimal.NewFromInt(102)))
}

func TestVWAPEmpty(t *testing.T) {
	_, ok := Tape{}.VWAP()
	assert.False(t, ok)
}

func TestForSymbol(t *testing.T) {
	tape := Tape{{Symbol: "LOAN", Price: 1, Size: 1}, {Symbol: "BOND", Price: 2, Size: 1}}
	assert.Equal(t, Tape{{Symbol: "LOAN", Price: 1, Size: 1}}, tape.ForSymbol("LOAN"))
}
