package container

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"oracle-mm/infrastructure/logger"
)

// sdNotifier 向 systemd 报告状态。不在 systemd 下运行时所有调用都是空操作。
type sdNotifier struct {
	logger *logger.Logger
	send   func(state string) (bool, error)

	mu       sync.Mutex
	interval time.Duration // watchdog 心跳间隔，0 表示未启用
	lastPing time.Time
}

func newSDNotifier(log *logger.Logger) *sdNotifier {
	n := &sdNotifier{
		logger: log,
		send:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if wd, err := daemon.SdWatchdogEnabled(false); err == nil && wd > 0 {
		// 取超时的一半作为心跳间隔
		n.interval = wd / 2
	}
	return n
}

// Ready 状态缓存首次完整后调用。
func (n *sdNotifier) Ready() {
	n.notify(daemon.SdNotifyReady)
}

// Stopping 开始退出时调用。
func (n *sdNotifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

// Status 更新 systemctl status 里显示的一行说明。
func (n *sdNotifier) Status(msg string) {
	n.notify("STATUS=" + msg)
}

// Watchdog 每个决策周期调用，按间隔节流。
func (n *sdNotifier) Watchdog() {
	n.mu.Lock()
	if n.interval <= 0 || time.Since(n.lastPing) < n.interval {
		n.mu.Unlock()
		return
	}
	n.lastPing = time.Now()
	n.mu.Unlock()
	n.notify(daemon.SdNotifyWatchdog)
}

func (n *sdNotifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", zap.String("state", state))
	}
}
