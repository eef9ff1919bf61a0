// Package app wires the two processes: the HTTP API serving user CRUD, and
// the delivery worker draining due birthdays on a cron schedule. Both own
// their dependencies explicitly; there is no shared global state.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bigfood2010/birthday-reminder-service/internal/api"
	"github.com/bigfood2010/birthday-reminder-service/internal/config"
	"github.com/bigfood2010/birthday-reminder-service/internal/gateway"
	"github.com/bigfood2010/birthday-reminder-service/internal/store"
	"github.com/bigfood2010/birthday-reminder-service/internal/worker"
)

// RunAPI serves the user CRUD API until an interrupt or SIGTERM.
func RunAPI(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	log.Info("sqlite ready", zap.String("path", cfg.DBPath))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(repo, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	return nil
}

// RunWorker runs the delivery worker on its cron schedule until an interrupt
// or SIGTERM. SkipIfStillRunning guarantees ticks never overlap: a slow run
// finishes before the next one may start.
func RunWorker(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	log.Info("sqlite ready", zap.String("path", cfg.DBPath))

	gw, err := gateway.New(cfg, log)
	if err != nil {
		return err
	}

	w := worker.New(repo, gw, log, worker.Options{
		BatchSize:           cfg.BatchSize,
		MaxBatchesPerRun:    cfg.MaxBatchesPerRun,
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		RetryDelay:          time.Duration(cfg.RetryDelayMinutes) * time.Minute,
		SendTimeout:         time.Duration(cfg.SendTimeoutSeconds) * time.Second,
	})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	if _, err := c.AddFunc(cfg.WorkerSchedule, func() { w.ProcessDueBirthdays(ctx) }); err != nil {
		return err
	}
	c.Start()
	log.Info("birthday worker started",
		zap.String("schedule", cfg.WorkerSchedule),
		zap.String("provider", cfg.MessageProvider))

	<-ctx.Done()
	log.Info("shutdown signal received")

	// Stop returns a context that completes once in-flight jobs finish.
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
