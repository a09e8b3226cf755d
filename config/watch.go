package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"oracle-mm/infrastructure/logger"
)

// Watcher 基于 fsnotify 监听配置文件，变更后重新加载并回调。
// 监听所在目录而不是文件本身，编辑器"写临时文件再 rename"的保存方式也能捕获。
type Watcher struct {
	path     string
	cooldown time.Duration
	dryRun   bool // 与启动时一致：演练模式下允许缺少凭证
	log      *logger.Logger
	fsw      *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time
	stopOnce   sync.Once
}

// NewWatcher 创建监听器；成功加载后 cooldown 内的重复事件被合并。
func NewWatcher(path string, cooldown time.Duration, dryRun bool, log *logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{path: path, cooldown: cooldown, dryRun: dryRun, log: log, fsw: fsw}, nil
}

// Start 阻塞直到 ctx 结束；只有通过校验的新配置才会交给 onUpdate。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(onUpdate)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(onUpdate func(AppConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cooldown > 0 && time.Since(w.lastReload) < w.cooldown {
		return
	}

	cfg, err := w.load()
	if err != nil {
		// 不计入冷却：编辑器先截断再写入，截断时的失败不能吞掉随后的完整写入
		w.log.Warn("config reload rejected, keeping previous", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.lastReload = time.Now()
	w.log.Info("config reloaded", zap.String("path", w.path))
	if onUpdate != nil {
		onUpdate(cfg)
	}
}

func (w *Watcher) load() (AppConfig, error) {
	cfg, err := LoadWithEnvOverrides(w.path)
	if w.dryRun && errors.Is(err, ErrMissingCredentials) {
		err = nil
	}
	if err != nil {
		return cfg, err
	}
	if w.dryRun {
		cfg.Gateway.DryRun = true
	}
	return cfg, nil
}

// Stop 关闭底层 fsnotify 句柄，幂等。
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() { err = w.fsw.Close() })
	return err
}
