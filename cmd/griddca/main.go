package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"griddca/internal/app"
	"griddca/internal/config"
	"griddca/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	cfgFlag := flag.String("config", "", "config file (defaults to $GRIDDCA_CONFIG or configs/griddca.yaml)")
	flag.Parse()

	// .env 只提供密钥，缺失不算错误
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("读取 .env 失败: %v", err)
	}

	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	closer, err := logger.SetupFile(cfg.App.LogPath, logger.RotateConfig{
		MaxSizeMB:  cfg.App.LogRotate.MaxSizeMB,
		MaxBackups: cfg.App.LogRotate.MaxBackups,
		MaxAgeDays: cfg.App.LogRotate.MaxAgeDays,
		Compress:   cfg.App.LogRotate.Compress,
	})
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，config=%s）", cfg.App.Env, cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("bye")
}
