package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/metrics"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/units"
)

// StakeRequest asks to stake Amount (human-readable, token decimals) of the
// campaign token from Wallet. Nonce makes the request idempotent.
type StakeRequest struct {
	Wallet     evm.Wallet
	CampaignID string
	Amount     string
	Nonce      string
}

// StakeRun is the outcome of one stake invocation. It is returned even when
// the run failed so callers can report which leg went wrong.
type StakeRun struct {
	Key        string
	CampaignID string
	Wallet     common.Address
	Amount     units.TokenAmount
	Steps      []models.TransactionStep
	Err        error

	wallet  evm.Wallet
	machine *StakeMachine
}

// State returns the run's state machine state.
func (r *StakeRun) State() StakeState {
	return r.machine.State()
}

// FailedStep returns the failed leg, if any.
func (r *StakeRun) FailedStep() models.StepKind {
	return r.machine.FailedStep()
}

// Step returns the recorded leg of kind, if it was attempted.
func (r *StakeRun) Step(kind models.StepKind) (models.TransactionStep, bool) {
	for _, s := range r.Steps {
		if s.Kind == kind {
			return s, true
		}
	}
	return models.TransactionStep{}, false
}

func (r *StakeRun) upsertStep(step models.TransactionStep) {
	for i := range r.Steps {
		if r.Steps[i].Kind == step.Kind {
			r.Steps[i] = step
			return
		}
	}
	r.Steps = append(r.Steps, step)
}

// StakeKey derives the idempotency key for a stake request.
func StakeKey(wallet common.Address, campaignID, nonce string) string {
	seed := strings.ToLower(wallet.Hex()) + "|" + campaignID + "|" + nonce
	return hexutil.Encode(crypto.Keccak256([]byte(seed)))
}

// StakingWorkflow runs approve → stake for campaign staking pools.
type StakingWorkflow struct {
	contracts *evm.Contracts
	campaigns *Campaigns
	journal   registry.StakeJournal
	locks     *WalletLocks
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewStakingWorkflow creates the staking workflow. locks is shared with the
// creator-token workflow.
func NewStakingWorkflow(
	contracts *evm.Contracts,
	campaigns *Campaigns,
	journal registry.StakeJournal,
	locks *WalletLocks,
	retry RetryPolicy,
	logger *zap.Logger,
) *StakingWorkflow {
	return &StakingWorkflow{
		contracts: contracts,
		campaigns: campaigns,
		journal:   journal,
		locks:     locks,
		retry:     retry,
		logger:    logger,
	}
}

// Stake runs a full invocation. The returned run is nil only when the
// request was rejected before any state was created.
func (w *StakingWorkflow) Stake(ctx context.Context, req StakeRequest) (*StakeRun, error) {
	if req.Wallet == nil {
		return nil, errs.Reasonf(errs.KindInvalidInput, "stake", "wallet is required")
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return nil, errs.Reasonf(errs.KindInvalidInput, "stake", "request nonce is required")
	}
	campaign, err := w.campaigns.Get(req.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.HasStakingPool() {
		return nil, errs.Reasonf(errs.KindPrecondition, "stake", "campaign %s has no staking contract", campaign.ID)
	}

	addr := req.Wallet.Address()
	release, err := w.locks.TryAcquire(addr, "stake")
	if err != nil {
		return nil, err
	}
	defer release()

	token := w.contracts.Token(campaign.Token)
	pool := w.contracts.Staking(campaign.StakingPool, token)

	amount, err := retry(ctx, w.retry, w.logger, "parse amount", func() (units.TokenAmount, error) {
		return token.Amount(ctx, req.Amount)
	})
	if err != nil {
		return nil, err
	}

	run := &StakeRun{
		Key:        StakeKey(addr, campaign.ID, req.Nonce),
		CampaignID: campaign.ID,
		Wallet:     addr,
		Amount:     amount,
		wallet:     req.Wallet,
		machine:    NewStakeMachine(amount),
	}

	// Pre-flight: nothing is journaled or sent unless the balance covers it.
	balance, err := retry(ctx, w.retry, w.logger, "balanceOf", func() (units.TokenAmount, error) {
		return token.BalanceOf(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	if err := run.machine.BeginApproval(balance); err != nil {
		return nil, err
	}

	err = w.journal.BeginStakeAttempt(ctx, &models.StakeAttempt{
		IdempotencyKey: run.Key,
		WalletAddress:  addr.Hex(),
		CampaignID:     campaign.ID,
		AmountUnits:    amount.UnitsString(),
		Status:         models.StakeAttemptInProgress,
	})
	if errors.Is(err, registry.ErrDuplicateKey) {
		return nil, errs.Reasonf(errs.KindAlreadyInProgress, "stake", "stake request %s was already submitted", run.Key)
	}
	if err != nil {
		return nil, errs.E(errs.KindInternal, "stake", fmt.Errorf("failed to journal stake attempt: %w", err))
	}

	w.logger.Info("Stake run started",
		zap.String("key", run.Key),
		zap.String("wallet", addr.Hex()),
		zap.String("campaign_id", campaign.ID),
		zap.String("amount", amount.String()))

	if err := w.approve(ctx, run, token, pool.Address()); err != nil {
		return w.finish(ctx, run, models.StepApprove, err)
	}
	if err := w.stake(ctx, run, pool); err != nil {
		return w.finish(ctx, run, models.StepStake, err)
	}
	return w.finish(ctx, run, "", nil)
}

// RetryStake retries only the stake leg of a run that failed there. The
// allowance is re-read from chain; the earlier approval is not trusted.
func (w *StakingWorkflow) RetryStake(ctx context.Context, run *StakeRun) (*StakeRun, error) {
	if run == nil || run.machine == nil {
		return nil, errs.Reasonf(errs.KindInvalidInput, "retry stake", "no run to retry")
	}
	campaign, err := w.campaigns.Get(run.CampaignID)
	if err != nil {
		return run, err
	}

	release, err := w.locks.TryAcquire(run.Wallet, "retry stake")
	if err != nil {
		return run, err
	}
	defer release()

	token := w.contracts.Token(campaign.Token)
	pool := w.contracts.Staking(campaign.StakingPool, token)

	allowance, err := retry(ctx, w.retry, w.logger, "allowance", func() (units.TokenAmount, error) {
		return token.Allowance(ctx, run.Wallet, pool.Address())
	})
	if err != nil {
		return run, err
	}
	if err := run.machine.ResumeStake(allowance); err != nil {
		return run, err
	}
	run.Err = nil

	w.logger.Info("Retrying stake leg",
		zap.String("key", run.Key),
		zap.String("allowance", allowance.String()))

	if err := w.stake(ctx, run, pool); err != nil {
		return w.finish(ctx, run, models.StepStake, err)
	}
	return w.finish(ctx, run, "", nil)
}

func (w *StakingWorkflow) approve(ctx context.Context, run *StakeRun, token *evm.TokenContract, spender common.Address) error {
	step := models.TransactionStep{Kind: models.StepApprove, Status: models.StepPending}
	run.upsertStep(step)

	hash, err := submit(ctx, w.retry, w.logger, "approve", func() (common.Hash, error) {
		return token.Approve(ctx, run.wallet, spender, run.Amount)
	})
	if err != nil {
		return err
	}
	step.TxHash = hash.Hex()
	run.upsertStep(step)

	receipt, err := w.await(ctx, hash)
	if err != nil {
		return err
	}
	step.BlockNumber = receipt.BlockNumber

	allowance, err := retry(ctx, w.retry, w.logger, "allowance", func() (units.TokenAmount, error) {
		return token.Allowance(ctx, run.Wallet, spender)
	})
	if err != nil {
		return err
	}
	if err := run.machine.ConfirmApproval(allowance); err != nil {
		return err
	}
	step.Status = models.StepConfirmed
	run.upsertStep(step)
	metrics.ChainTx.WithLabelValues(string(models.StepApprove), string(models.StepConfirmed)).Inc()
	return nil
}

func (w *StakingWorkflow) stake(ctx context.Context, run *StakeRun, pool *evm.StakingContract) error {
	if err := run.machine.BeginStake(); err != nil {
		return err
	}
	step := models.TransactionStep{Kind: models.StepStake, Status: models.StepPending}
	run.upsertStep(step)

	hash, err := submit(ctx, w.retry, w.logger, "stake", func() (common.Hash, error) {
		return pool.Stake(ctx, run.wallet, run.Amount)
	})
	if err != nil {
		return err
	}
	step.TxHash = hash.Hex()
	run.upsertStep(step)

	receipt, err := w.await(ctx, hash)
	if err != nil {
		return err
	}
	if err := run.machine.ConfirmStake(); err != nil {
		return err
	}
	step.Status = models.StepConfirmed
	step.BlockNumber = receipt.BlockNumber
	run.upsertStep(step)
	metrics.ChainTx.WithLabelValues(string(models.StepStake), string(models.StepConfirmed)).Inc()
	return nil
}

// await waits for a receipt. A connectivity failure while waiting is retried
// against the same hash; nothing is rebroadcast.
func (w *StakingWorkflow) await(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	gw := w.contracts.Gateway()
	return retry(ctx, w.retry, w.logger, "wait for receipt", func() (*evm.Receipt, error) {
		return gw.WaitForReceipt(ctx, hash)
	})
}

// finish moves the run to its terminal state and journals it. A non-empty
// step marks a failure of that leg.
func (w *StakingWorkflow) finish(ctx context.Context, run *StakeRun, step models.StepKind, cause error) (*StakeRun, error) {
	result := models.StakeAttemptResult{Status: models.StakeAttemptStaked}
	if s, ok := run.Step(models.StepApprove); ok {
		result.ApproveTxHash = s.TxHash
	}

	if step != "" {
		cause = errs.WithStep(cause, string(step))
		if s, ok := run.Step(step); ok {
			s.Status = models.StepFailed
			s.Error = cause.Error()
			run.upsertStep(s)
		}
		if err := run.machine.Fail(step); err != nil {
			w.logger.Error("Failed to record failed step", zap.String("key", run.Key), zap.Error(err))
		}
		run.Err = cause
		metrics.ChainTx.WithLabelValues(string(step), string(models.StepFailed)).Inc()

		result.Status = models.StakeAttemptFailed
		result.FailedStep = string(step)
		result.ErrorMessage = cause.Error()

		w.logger.Warn("Stake run failed",
			zap.String("key", run.Key),
			zap.String("step", string(step)),
			zap.String("kind", string(errs.KindOf(cause))),
			zap.Error(cause))
	} else {
		w.logger.Info("Stake run completed",
			zap.String("key", run.Key),
			zap.String("wallet", run.Wallet.Hex()),
			zap.String("amount", run.Amount.String()))
	}
	if s, ok := run.Step(models.StepStake); ok {
		result.StakeTxHash = s.TxHash
	}

	// The journal must record the outcome even if the caller went away.
	if err := w.journal.FinishStakeAttempt(context.WithoutCancel(ctx), run.Key, result); err != nil {
		w.logger.Error("Failed to journal stake outcome",
			zap.String("key", run.Key),
			zap.Error(err))
	}
	return run, run.Err
}
