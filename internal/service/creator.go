package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/metrics"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/units"
)

// DeployRequest asks to deploy the identity's creator token from Wallet,
// which becomes the token owner.
type DeployRequest struct {
	Identity    models.Identity
	CampaignID  string
	Wallet      evm.Wallet
	TokenName   string
	TokenSymbol string
}

// DeployResult is a confirmed (or adopted) deployment.
type DeployResult struct {
	Deployment *models.CreatorTokenDeployment `json:"deployment"`
	Step       models.TransactionStep         `json:"step"`
	// Adopted is set when code was already at the expected address and the
	// deployment was recorded without a new transaction.
	Adopted bool `json:"adopted"`
}

// MintRequest mints Amount of the identity's creator token to To (defaults
// to the wallet).
type MintRequest struct {
	IdentityKey string
	CampaignID  string
	Wallet      evm.Wallet
	Amount      string
	To          string
}

// MintResult is a confirmed mint.
type MintResult struct {
	ContractAddress string                 `json:"contract_address"`
	To              string                 `json:"to"`
	Amount          units.TokenAmount      `json:"amount"`
	Step            models.TransactionStep `json:"step"`
}

// ReconcileOutcome says what a reconciliation pass did with one intent.
type ReconcileOutcome string

const (
	ReconcileCompleted ReconcileOutcome = "completed"
	ReconcileAbandoned ReconcileOutcome = "abandoned"
	ReconcilePending   ReconcileOutcome = "pending"
)

// CreatorTokenWorkflow deploys and mints creator tokens.
type CreatorTokenWorkflow struct {
	contracts *evm.Contracts
	factory   *evm.CreatorTokenFactory
	verifier  *EligibilityVerifier
	registry  registry.Registry
	locks     *WalletLocks
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewCreatorTokenWorkflow creates the workflow.
func NewCreatorTokenWorkflow(
	contracts *evm.Contracts,
	factory *evm.CreatorTokenFactory,
	verifier *EligibilityVerifier,
	reg registry.Registry,
	locks *WalletLocks,
	retry RetryPolicy,
	logger *zap.Logger,
) *CreatorTokenWorkflow {
	return &CreatorTokenWorkflow{
		contracts: contracts,
		factory:   factory,
		verifier:  verifier,
		registry:  reg,
		locks:     locks,
		retry:     retry,
		logger:    logger,
	}
}

// GetDeployment returns the identity's deployment, or nil.
func (w *CreatorTokenWorkflow) GetDeployment(ctx context.Context, identityKey string) (*models.CreatorTokenDeployment, error) {
	d, err := w.registry.GetDeployment(ctx, identityKey)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "get deployment", err)
	}
	return d, nil
}

// Deploy deploys the identity's creator token. The deployment is persisted
// only after the receipt is confirmed and code exists at the address.
func (w *CreatorTokenWorkflow) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	const op = "deploy"

	name := strings.TrimSpace(req.TokenName)
	symbol := strings.ToUpper(strings.TrimSpace(req.TokenSymbol))
	switch {
	case req.Wallet == nil:
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "wallet is required")
	case req.Identity.Key == "":
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "identity key is required")
	case name == "":
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "token name is required")
	case symbol == "":
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "token symbol is required")
	}

	if err := w.verifier.RequireMembership(ctx, req.Identity.Key, req.CampaignID); err != nil {
		return nil, err
	}
	campaign, err := w.verifier.campaigns.Get(req.CampaignID)
	if err != nil {
		return nil, err
	}

	owner := req.Wallet.Address()
	releaseIdentity, err := w.locks.TryAcquireIdentity(req.Identity.Key, op)
	if err != nil {
		return nil, err
	}
	defer releaseIdentity()
	release, err := w.locks.TryAcquire(owner, op)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := w.GetDeployment(ctx, req.Identity.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Reasonf(errs.KindPrecondition, op, "%s already deployed %s", req.Identity.Key, existing.ContractAddress)
	}

	spec := evm.DeploySpec{IdentityKey: req.Identity.Key, Name: name, Symbol: symbol, InitialOwner: owner}
	expected, err := w.factory.ExpectedAddress(spec)
	if err != nil {
		return nil, err
	}

	intent := &models.DeployIntent{
		OwnerIdentityKey: req.Identity.Key,
		OwnerAddress:     owner.Hex(),
		ChainID:          w.contracts.Gateway().ChainID().String(),
		ExpectedAddress:  expected.Hex(),
		TokenName:        name,
		TokenSymbol:      symbol,
		CampaignID:       campaign.ID,
		Status:           models.DeployIntentPending,
	}

	// A previous attempt may have landed without being recorded.
	deployed, err := retry(ctx, w.retry, w.logger, "get code", func() (bool, error) {
		return w.factory.HasCode(ctx, expected)
	})
	if err != nil {
		return nil, err
	}
	if deployed {
		prior, err := w.priorTxHash(ctx, req.Identity.Key)
		if err != nil {
			return nil, err
		}
		intent.DeployTxHash = prior
		d, err := w.record(ctx, intent)
		if err != nil {
			return nil, err
		}
		w.logger.Info("Adopted existing creator token",
			zap.String("identity_key", req.Identity.Key),
			zap.String("contract_address", d.ContractAddress))
		return &DeployResult{
			Deployment: d,
			Step:       models.TransactionStep{Kind: models.StepDeploy, Status: models.StepConfirmed, TxHash: d.DeployTxHash},
			Adopted:    true,
		}, nil
	}

	if err := w.registry.PutDeployIntent(ctx, intent); err != nil {
		if errors.Is(err, registry.ErrDuplicateKey) {
			return nil, errs.Reasonf(errs.KindPrecondition, op, "%s already has a completed or pending deployment elsewhere", req.Identity.Key)
		}
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to record deploy intent: %w", err))
	}
	metrics.WorkflowTransitions.WithLabelValues("creator_token", "deploying").Inc()

	step := models.TransactionStep{Kind: models.StepDeploy, Status: models.StepPending}
	hash, err := submit(ctx, w.retry, w.logger, op, func() (common.Hash, error) {
		_, h, err := w.factory.Deploy(ctx, req.Wallet, spec)
		return h, err
	})
	if err != nil {
		w.abandonIntent(ctx, req.Identity.Key)
		return w.failDeploy(step, err)
	}
	step.TxHash = hash.Hex()
	if err := w.registry.SetDeployIntentTx(ctx, req.Identity.Key, step.TxHash); err != nil {
		w.logger.Error("Failed to attach tx hash to deploy intent",
			zap.String("identity_key", req.Identity.Key),
			zap.String("tx_hash", step.TxHash),
			zap.Error(err))
	}
	intent.DeployTxHash = &step.TxHash

	receipt, err := retry(ctx, w.retry, w.logger, "confirm deployment", func() (*evm.Receipt, error) {
		return w.factory.ConfirmDeployment(ctx, hash, expected)
	})
	if err != nil {
		// A revert is final. Anything else leaves the intent for the reconciler.
		if errs.KindOf(err) == errs.KindRevert {
			w.abandonIntent(ctx, req.Identity.Key)
		}
		return w.failDeploy(step, err)
	}
	step.BlockNumber = receipt.BlockNumber

	d, err := w.record(context.WithoutCancel(ctx), intent)
	if err != nil {
		return w.failDeploy(step, err)
	}
	step.Status = models.StepConfirmed
	metrics.ChainTx.WithLabelValues(string(models.StepDeploy), string(models.StepConfirmed)).Inc()
	metrics.WorkflowTransitions.WithLabelValues("creator_token", "deployed").Inc()

	w.logger.Info("Creator token deployed",
		zap.String("identity_key", req.Identity.Key),
		zap.String("contract_address", d.ContractAddress),
		zap.String("tx_hash", step.TxHash))
	return &DeployResult{Deployment: d, Step: step}, nil
}

// Mint mints from the stored deployment address. The wallet must own the
// deployment.
func (w *CreatorTokenWorkflow) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	const op = "mint"

	if req.Wallet == nil {
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "wallet is required")
	}
	if err := w.verifier.RequireMembership(ctx, req.IdentityKey, req.CampaignID); err != nil {
		return nil, err
	}

	d, err := w.GetDeployment(ctx, req.IdentityKey)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errs.Reasonf(errs.KindPrecondition, op, "%s has not deployed a creator token", req.IdentityKey)
	}
	contract, err := evm.ParseAddress(d.ContractAddress)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("stored contract address is invalid: %w", err))
	}
	owner, err := evm.ParseAddress(d.OwnerAddress)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("stored owner address is invalid: %w", err))
	}
	if req.Wallet.Address() != owner {
		return nil, errs.Reasonf(errs.KindPrecondition, op, "wallet %s does not own %s", req.Wallet.Address().Hex(), d.ContractAddress)
	}

	to := owner
	if strings.TrimSpace(req.To) != "" {
		to, err = evm.ParseAddress(req.To)
		if err != nil {
			return nil, err
		}
	}

	release, err := w.locks.TryAcquire(owner, op)
	if err != nil {
		return nil, err
	}
	defer release()

	token := w.contracts.Token(contract)
	amount, err := retry(ctx, w.retry, w.logger, "parse amount", func() (units.TokenAmount, error) {
		return token.Amount(ctx, req.Amount)
	})
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "amount must be greater than zero")
	}

	metrics.WorkflowTransitions.WithLabelValues("creator_token", "minting").Inc()
	step := models.TransactionStep{Kind: models.StepMint, Status: models.StepPending}
	hash, err := submit(ctx, w.retry, w.logger, op, func() (common.Hash, error) {
		return token.Mint(ctx, req.Wallet, to, amount)
	})
	if err != nil {
		return w.failMint(step, err)
	}
	step.TxHash = hash.Hex()

	receipt, err := retry(ctx, w.retry, w.logger, "wait for receipt", func() (*evm.Receipt, error) {
		return w.contracts.Gateway().WaitForReceipt(ctx, hash)
	})
	if err != nil {
		return w.failMint(step, err)
	}
	step.Status = models.StepConfirmed
	step.BlockNumber = receipt.BlockNumber
	metrics.ChainTx.WithLabelValues(string(models.StepMint), string(models.StepConfirmed)).Inc()
	metrics.WorkflowTransitions.WithLabelValues("creator_token", "minted").Inc()

	w.logger.Info("Creator token minted",
		zap.String("identity_key", req.IdentityKey),
		zap.String("contract_address", d.ContractAddress),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", step.TxHash))

	return &MintResult{ContractAddress: d.ContractAddress, To: to.Hex(), Amount: amount, Step: step}, nil
}

// ReconcileIntent settles one pending deploy intent: code at the expected
// address completes it, and an intent older than ttl without code is
// abandoned.
func (w *CreatorTokenWorkflow) ReconcileIntent(ctx context.Context, intent models.DeployIntent, ttl time.Duration) (ReconcileOutcome, error) {
	expected, err := evm.ParseAddress(intent.ExpectedAddress)
	if err != nil {
		return ReconcilePending, fmt.Errorf("intent %s has an invalid expected address: %w", intent.OwnerIdentityKey, err)
	}
	if intent.ChainID != w.contracts.Gateway().ChainID().String() {
		return ReconcilePending, nil
	}

	deployed, err := w.factory.HasCode(ctx, expected)
	if err != nil {
		return ReconcilePending, err
	}
	if deployed {
		owner, err := evm.ParseAddress(intent.OwnerAddress)
		if err != nil {
			return ReconcilePending, fmt.Errorf("intent %s has an invalid owner address: %w", intent.OwnerIdentityKey, err)
		}
		spec := evm.DeploySpec{IdentityKey: intent.OwnerIdentityKey, Name: intent.TokenName, Symbol: intent.TokenSymbol, InitialOwner: owner}
		ok, err := w.factory.Matches(spec, expected)
		if err != nil {
			return ReconcilePending, err
		}
		if !ok {
			return ReconcilePending, errs.Reasonf(errs.KindPrecondition, "reconcile", "intent %s does not derive %s", intent.OwnerIdentityKey, expected.Hex())
		}
		if _, err := w.record(ctx, &intent); err != nil {
			if errs.KindOf(err) != errs.KindPrecondition {
				return ReconcilePending, err
			}
			// Another contract already won the identity.
			if err := w.registry.ResolveDeployIntent(ctx, intent.OwnerIdentityKey, models.DeployIntentAbandoned); err != nil {
				return ReconcilePending, fmt.Errorf("failed to abandon intent: %w", err)
			}
			metrics.ReconciledIntents.WithLabelValues(string(ReconcileAbandoned)).Inc()
			return ReconcileAbandoned, nil
		}
		metrics.ReconciledIntents.WithLabelValues(string(ReconcileCompleted)).Inc()
		return ReconcileCompleted, nil
	}

	if ttl > 0 && time.Since(intent.CreatedAt) > ttl {
		if err := w.registry.ResolveDeployIntent(ctx, intent.OwnerIdentityKey, models.DeployIntentAbandoned); err != nil {
			return ReconcilePending, fmt.Errorf("failed to abandon intent: %w", err)
		}
		metrics.ReconciledIntents.WithLabelValues(string(ReconcileAbandoned)).Inc()
		return ReconcileAbandoned, nil
	}
	return ReconcilePending, nil
}

// record persists the deployment described by intent, resolves the intent
// and enriches the identity's claim. A deployment of the same contract
// recorded concurrently by another process is returned as is; a different
// contract is a Precondition error.
func (w *CreatorTokenWorkflow) record(ctx context.Context, intent *models.DeployIntent) (*models.CreatorTokenDeployment, error) {
	d := &models.CreatorTokenDeployment{
		OwnerIdentityKey: intent.OwnerIdentityKey,
		OwnerAddress:     intent.OwnerAddress,
		ChainID:          intent.ChainID,
		ContractAddress:  intent.ExpectedAddress,
		TokenName:        intent.TokenName,
		TokenSymbol:      intent.TokenSymbol,
	}
	if intent.DeployTxHash != nil {
		d.DeployTxHash = *intent.DeployTxHash
	}

	err := w.registry.PutDeployment(ctx, d)
	switch {
	case errors.Is(err, registry.ErrDuplicateKey):
		stored, getErr := w.GetDeployment(ctx, intent.OwnerIdentityKey)
		if getErr != nil {
			return nil, getErr
		}
		if stored == nil || !strings.EqualFold(stored.ContractAddress, intent.ExpectedAddress) {
			return nil, errs.Reasonf(errs.KindPrecondition, "record deployment", "%s is already recorded with another contract", intent.OwnerIdentityKey)
		}
		d = stored
	case err != nil:
		return nil, errs.E(errs.KindInternal, "record deployment", fmt.Errorf("failed to persist deployment: %w", err))
	}

	if err := w.registry.ResolveDeployIntent(ctx, intent.OwnerIdentityKey, models.DeployIntentCompleted); err != nil && !errors.Is(err, registry.ErrNotFound) {
		w.logger.Error("Failed to resolve deploy intent",
			zap.String("identity_key", intent.OwnerIdentityKey),
			zap.Error(err))
	}

	if intent.CampaignID != "" {
		info := models.TokenInfo{Address: d.ContractAddress, Name: d.TokenName, Symbol: d.TokenSymbol}
		err := w.registry.UpdateClaimTokenInfo(ctx, intent.OwnerIdentityKey, intent.CampaignID, info)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			w.logger.Error("Failed to enrich claim with token info",
				zap.String("identity_key", intent.OwnerIdentityKey),
				zap.String("campaign_id", intent.CampaignID),
				zap.Error(err))
		}
	}
	return d, nil
}

// priorTxHash returns the hash recorded by an earlier intent, if any.
func (w *CreatorTokenWorkflow) priorTxHash(ctx context.Context, identityKey string) (*string, error) {
	intent, err := w.registry.GetDeployIntent(ctx, identityKey)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "deploy", fmt.Errorf("failed to get deploy intent: %w", err))
	}
	if intent == nil {
		return nil, nil
	}
	return intent.DeployTxHash, nil
}

func (w *CreatorTokenWorkflow) abandonIntent(ctx context.Context, identityKey string) {
	err := w.registry.ResolveDeployIntent(context.WithoutCancel(ctx), identityKey, models.DeployIntentAbandoned)
	if err != nil {
		w.logger.Error("Failed to abandon deploy intent",
			zap.String("identity_key", identityKey),
			zap.Error(err))
	}
}

func (w *CreatorTokenWorkflow) failDeploy(step models.TransactionStep, err error) (*DeployResult, error) {
	err = errs.WithStep(err, string(models.StepDeploy))
	step.Status = models.StepFailed
	step.Error = err.Error()
	metrics.ChainTx.WithLabelValues(string(models.StepDeploy), string(models.StepFailed)).Inc()
	w.logger.Warn("Creator token deploy failed",
		zap.String("tx_hash", step.TxHash),
		zap.String("kind", string(errs.KindOf(err))),
		zap.Error(err))
	return &DeployResult{Step: step}, err
}

func (w *CreatorTokenWorkflow) failMint(step models.TransactionStep, err error) (*MintResult, error) {
	err = errs.WithStep(err, string(models.StepMint))
	step.Status = models.StepFailed
	step.Error = err.Error()
	metrics.ChainTx.WithLabelValues(string(models.StepMint), string(models.StepFailed)).Inc()
	w.logger.Warn("Creator token mint failed",
		zap.String("tx_hash", step.TxHash),
		zap.String("kind", string(errs.KindOf(err))),
		zap.Error(err))
	return &MintResult{Step: step}, err
}
