package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/service"
)

// IntentSource lists deploy intents that have not been resolved yet.
type IntentSource interface {
	ListPendingDeployIntents(ctx context.Context, limit int) ([]models.DeployIntent, error)
}

// IntentReconciler settles a single deploy intent.
type IntentReconciler interface {
	ReconcileIntent(ctx context.Context, intent models.DeployIntent, ttl time.Duration) (service.ReconcileOutcome, error)
}

// PassSummary counts what one reconciliation pass did.
type PassSummary struct {
	Scanned   int
	Completed int
	Abandoned int
	Pending   int
	Failed    int
}

// Reconciler polls pending deploy intents and records deployments whose
// transaction landed while nobody was waiting for the receipt.
type Reconciler struct {
	intents    IntentSource
	reconciler IntentReconciler
	cfg        config.ReconcilerConfig
	logger     *zap.Logger
}

// NewReconciler creates a reconciler. Zero config values fall back to the
// defaults used by the server.
func NewReconciler(intents IntentSource, reconciler IntentReconciler, cfg config.ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Reconciler{
		intents:    intents,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger.Named("reconciler"),
	}
}

// Run starts the polling loop and blocks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started",
		zap.Duration("poll_interval", r.cfg.Interval),
		zap.Duration("intent_ttl", r.cfg.IntentTTL),
		zap.Int("batch_size", r.cfg.BatchSize))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Initial pass
	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, PassTimeout)
	defer cancel()

	summary, err := r.RunOnce(pollCtx)
	if err != nil {
		r.logger.Error("Reconciliation pass failed", zap.Error(err))
		return
	}
	if summary.Scanned > 0 {
		r.logger.Info("Reconciliation pass finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("completed", summary.Completed),
			zap.Int("abandoned", summary.Abandoned),
			zap.Int("pending", summary.Pending),
			zap.Int("failed", summary.Failed))
	}
}

// RunOnce reconciles up to one batch of pending intents. A failure on one
// intent is logged and counted; it does not stop the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (PassSummary, error) {
	intents, err := r.intents.ListPendingDeployIntents(ctx, r.cfg.BatchSize)
	if err != nil {
		return PassSummary{}, err
	}

	outcomes := make([]service.ReconcileOutcome, len(intents))
	failed := make([]bool, len(intents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentIntents)
	for i := range intents {
		i := i
		g.Go(func() error {
			outcome, err := r.reconciler.ReconcileIntent(gctx, intents[i], r.cfg.IntentTTL)
			if err != nil {
				r.logger.Warn("Failed to reconcile deploy intent",
					zap.String("identity_key", intents[i].OwnerIdentityKey),
					zap.String("expected_address", intents[i].ExpectedAddress),
					zap.Error(err))
				failed[i] = true
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	summary := PassSummary{Scanned: len(intents)}
	for i, outcome := range outcomes {
		switch {
		case failed[i]:
			summary.Failed++
		case outcome == service.ReconcileCompleted:
			summary.Completed++
		case outcome == service.ReconcileAbandoned:
			summary.Abandoned++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}
