package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bigfood2010/birthday-reminder-service/internal/app"
	"github.com/bigfood2010/birthday-reminder-service/internal/config"
	"github.com/bigfood2010/birthday-reminder-service/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := app.RunWorker(context.Background(), cfg, log); err != nil {
		log.Fatal("worker run failed", zap.Error(err))
	}
}
