package container

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-mm/config"
	"oracle-mm/infrastructure/logger"
	"oracle-mm/risk"
	"oracle-mm/strategy"
)

type recordingComponent struct {
	name     string
	startErr error
	log      *[]string
	mu       *sync.Mutex
}

func (r *recordingComponent) record(s string) {
	r.mu.Lock()
	*r.log = append(*r.log, s)
	r.mu.Unlock()
}

func (r *recordingComponent) Start(context.Context) error {
	r.record("start " + r.name)
	return r.startErr
}

func (r *recordingComponent) Stop() error {
	r.record("stop " + r.name)
	return nil
}

func (r *recordingComponent) Health() error { return nil }

func TestLifecycleStartRollsBackOnFailure(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewLifecycleManager()
	m.Register(&recordingComponent{name: "a", log: &log, mu: &mu})
	m.Register(&recordingComponent{name: "b", log: &log, mu: &mu})
	m.Register(&recordingComponent{name: "c", log: &log, mu: &mu, startErr: errors.New("boom")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, log)
}

func TestLifecycleStopsInReverse(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewLifecycleManager()
	m.Register(&recordingComponent{name: "feed", log: &log, mu: &mu})
	m.Register(&recordingComponent{name: "engine", log: &log, mu: &mu})

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start feed", "start engine", "stop engine", "stop feed"}, log)
	assert.NoError(t, m.CheckHealth())
}

func TestBackgroundComponentRunsUntilStopped(t *testing.T) {
	started := make(chan struct{})
	var exitErr error
	c := &backgroundComponent{
		name:   "loop",
		logger: logger.NewNop(),
		run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			exitErr = ctx.Err()
			return exitErr
		},
	}
	assert.Error(t, c.Health(), "not started yet")

	require.NoError(t, c.Start(context.Background()))
	<-started
	assert.NoError(t, c.Health())

	require.NoError(t, c.Stop())
	assert.ErrorIs(t, exitErr, context.Canceled)
	assert.Error(t, c.Health())
	assert.NoError(t, c.Stop(), "second stop is a no-op")
}

func TestBackgroundComponentHealthHook(t *testing.T) {
	c := &backgroundComponent{
		name:   "feed",
		logger: logger.NewNop(),
		run:    func(ctx context.Context) error { <-ctx.Done(); return nil },
		health: func() error { return errors.New("feed disconnected") },
	}
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	assert.EqualError(t, c.Health(), "feed disconnected")
}

func TestSDNotifierThrottlesWatchdog(t *testing.T) {
	var sent []string
	n := &sdNotifier{
		logger:   logger.NewNop(),
		interval: time.Hour,
		send: func(state string) (bool, error) {
			sent = append(sent, state)
			return true, nil
		},
	}
	n.Ready()
	n.Watchdog()
	n.Watchdog()
	n.Status("feed ws_connected")
	n.Stopping()
	assert.Equal(t, []string{"READY=1", "WATCHDOG=1", "STATUS=feed ws_connected", "STOPPING=1"}, sent)
}

func TestSDNotifierWatchdogDisabled(t *testing.T) {
	calls := 0
	n := &sdNotifier{logger: logger.NewNop(), send: func(string) (bool, error) { calls++; return false, nil }}
	n.Watchdog()
	assert.Zero(t, calls)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.AppConfig{
		Quoting: config.QuotingConfig{
			OrderSize:                100000,
			DefaultBid:               99,
			DefaultAsk:               105,
			CollaborationDeviateRate: 0,
			DefectionDeviateRate:     0.01,
			CycleIntervalMs:          100,
			PaceDelayMs:              100,
			CancelPaceMs:             10,
			MaxCancelRounds:          50,
		},
		Risk: config.RiskConfig{
			BuyPositionThreshold:  100000,
			SellPositionThreshold: 100000,
			BuyHaltThreshold:      100000,
			SellHaltThreshold:     100000,
			BuyReentryThreshold:   50000,
			SellReentryThreshold:  50000,
		},
	}
	p := ParamsFromConfig(cfg)
	assert.Equal(t, strategy.Params{DefectionRate: 0.01, DefaultBid: 99, DefaultAsk: 105}, p.Quote)
	assert.Equal(t, int64(100000), p.OrderSize)
	assert.Equal(t, risk.Thresholds{
		BuyHalt: 100000, BuyReentry: 50000,
		SellHalt: 100000, SellReentry: 50000,
		BuyLimit: 100000, SellLimit: 100000,
	}, p.Risk)
	assert.NoError(t, p.Risk.Validate())
	assert.Equal(t, 100*time.Millisecond, p.CycleInterval)
	assert.Equal(t, 100*time.Millisecond, p.PaceDelay)
	assert.Equal(t, 10*time.Millisecond, p.CancelPace)
	assert.Equal(t, 50, p.MaxCancelRounds)
}
