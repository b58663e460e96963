package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/utility-sync-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	if path, ok := loadDotEnv(); ok {
		fmt.Printf("Loaded environment from: %s\n", path)
	} else {
		fmt.Println("No .env file found, using system environment variables")
	}

	app := fx.New(
		fx.StartTimeout(lifecycleTimeout),
		fx.StopTimeout(lifecycleTimeout),
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideAnomalyDetector,
			ProvideMQConnection,
			ProvideEventBus,
			ProvideEntries,
			ProvidePoller,
			ProvideProcessor,
			ProvideHTTPServer,
		),
		fx.Invoke(startWorker, startPoller, startHTTPServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootLogger, _ := newLogger(&config.Config{ServiceName: "utility-sync-worker"})
	bootLogger.Info("starting application...", zap.Duration("timeout", lifecycleTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			bootLogger.Error("application did not start in time, check database and RabbitMQ connectivity")
		}
		bootLogger.Fatal("failed to start application", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		bootLogger.Error("error stopping app", zap.Error(err))
	}
}

// loadDotEnv looks for a .env file in the working directory and up to two
// parents, which covers containers as well as running from bin/.
func loadDotEnv() (string, bool) {
	candidates := []string{".env", filepath.Join("..", "..", ".env")}
	if workDir, err := os.Getwd(); err == nil {
		for dir, i := workDir, 0; i < 3; dir, i = filepath.Dir(dir), i+1 {
			candidates = append(candidates, filepath.Join(dir, ".env"))
		}
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			continue
		}
		abs, _ := filepath.Abs(candidate)
		return abs, true
	}
	return "", false
}
