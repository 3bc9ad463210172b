package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"airdrop/offchain/internal/config"
)

// Constants for worker configuration
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultBatchSize     = 50
	PassTimeout          = 2 * time.Minute
	MaxConcurrentIntents = 4
)

// WorkerManager owns the background workers and their lifecycle
type WorkerManager struct {
	cfg    config.ReconcilerConfig
	logger *zap.Logger

	reconciler *Reconciler

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager with all required dependencies
func NewWorkerManager(
	intents IntentSource,
	reconciler IntentReconciler,
	cfg config.ReconcilerConfig,
	logger *zap.Logger,
) *WorkerManager {
	logger = logger.Named("worker")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerManager{
		cfg:        cfg,
		logger:     logger,
		reconciler: NewReconciler(intents, reconciler, cfg, logger),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Reconciler exposes the reconciler for one-off passes.
func (wm *WorkerManager) Reconciler() *Reconciler {
	return wm.reconciler
}

// Start starts all worker goroutines
func (wm *WorkerManager) Start() {
	if !wm.cfg.Enabled {
		wm.logger.Info("Reconciler disabled, no workers started")
		return
	}

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.reconciler.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown gracefully stops all workers
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	// Signal workers to stop
	wm.cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	wm.logger.Info("Worker manager shutdown complete")
	return nil
}
