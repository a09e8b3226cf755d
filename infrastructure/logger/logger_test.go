package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Outputs: []string{"stdout"}})
	require.Error(t, err)
}

func TestNewWritesRotatingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Outputs = []string{"file"}
	cfg.OutputFile = filepath.Join(dir, "trader.log")
	cfg.ErrorFile = filepath.Join(dir, "trader_errors.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("hello")
	l.LogError(errors.New("boom"), map[string]interface{}{"action": "place"})
	_ = l.Close()

	main, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(main), "hello")
	assert.Contains(t, string(main), "boom")

	errs, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "hello")
	assert.Contains(t, string(errs), "boom")
}

func TestEventHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))

	l.LogOrder("order_placed", "abc", map[string]interface{}{"side": "Buy"})
	l.LogRisk("buy_halted", nil)
	l.LogFeed("ws_connected", nil)
	l.WithFields(map[string]interface{}{"cycle": "x"}).Info("tick")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "order_event", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["order_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "buy_halted", entries[1].ContextMap()["event"])
	assert.Equal(t, "feed_event", entries[2].Message)
	assert.Equal(t, "x", entries[3].ContextMap()["cycle"])
}
