package main

import (
	"github.com/septivank/utility-sync-worker/internal/config"
	"github.com/septivank/utility-sync-worker/internal/logging"
	"github.com/septivank/utility-sync-worker/internal/metrics"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	metrics.Register()
	return logging.NewLogger(cfg.ServiceName)
}
