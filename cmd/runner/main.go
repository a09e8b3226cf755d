package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"oracle-mm/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "仅日志输出，不真正下单")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置")
	watch := flag.Bool("watch", true, "监听配置文件并热更新报价参数")
	seed := flag.Uint64("seed", 0, "随机源种子，0 表示按时间")
	cancelOnExit := flag.Bool("cancelOnExit", false, "退出时尽力撤掉两侧挂单")
	healthEvery := flag.Duration("healthInterval", 30*time.Second, "健康检查间隔，0 关闭")
	flag.Parse()

	c, err := container.New(*cfgPath, container.Options{
		DryRun:       *dryRun,
		MetricsAddr:  *metricsAddr,
		WatchConfig:  *watch,
		Seed:         *seed,
		CancelOnExit: *cancelOnExit,
	})
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	lg := c.Logger()

	if *healthEvery > 0 {
		go func() {
			ticker := time.NewTicker(*healthEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := c.HealthCheck(); err != nil {
						lg.Warn("health check failed", zap.Error(err))
					}
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("signal received, shutting down", zap.String("signal", sig.String()))

	// 逆序停止：引擎先于推送停止，退出撤单时缓存仍在更新
	if err := c.Stop(); err != nil {
		log.Printf("退出时出错: %v", err)
		os.Exit(1)
	}
}
