// fieldops-api 启动 fieldops 的 HTTP/gRPC 服务。
//
// 配置从 ./fieldops.yaml 或 ./config/fieldops.yaml 读取，可被 FIELDOPS_ 前缀的环境变量覆盖，
// 例如 FIELDOPS_DATABASE_DRIVER=postgres、FIELDOPS_IDEMPOTENCY_PROCESSING_TTL=5m。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/internal/app"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLogger := clog.Must(clog.NewProdDefaultConfig(), clog.WithNamespace("fieldops-api"))

	cfg, loader, err := app.Load(ctx, []string{".", "./config"}, bootLogger)
	if err != nil {
		bootLogger.Error("load config failed", clog.Error(err))
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		bootLogger.Error("init app failed", clog.Error(err))
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			bootLogger.Error("close app failed", clog.Error(err))
		}
	}()

	if err := a.WatchLogLevel(ctx, loader); err != nil {
		bootLogger.Warn("watch log level failed", clog.Error(err))
	}

	if err := a.Run(ctx); err != nil {
		bootLogger.Error("app stopped with error", clog.Error(err))
		return err
	}
	return nil
}
