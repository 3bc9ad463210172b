package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
)

var _ registry.Registry = (*DB)(nil)

// ==================== Claim Queries ====================

// GetClaim retrieves a claim by identity and campaign
func (db *DB) GetClaim(ctx context.Context, identityKey, campaignID string) (*models.ClaimRecord, error) {
	var claim models.ClaimRecord
	query := `
		SELECT identity_key, campaign_id, display_name, wallet_address,
		       staked_balance_units::TEXT AS staked_balance_units, decimals,
		       token_address, token_name, token_symbol, created_at, updated_at
		FROM claims
		WHERE identity_key = $1 AND campaign_id = $2
	`
	err := db.GetContext(ctx, &claim, query, identityKey, campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// PutClaimIfAbsent inserts the claim unless one already exists. The primary
// key makes concurrent submissions resolve to exactly one row.
func (db *DB) PutClaimIfAbsent(ctx context.Context, claim *models.ClaimRecord) (bool, error) {
	if claim == nil || claim.IdentityKey == "" || claim.CampaignID == "" {
		return false, registry.ErrInvalidInput
	}
	staked := claim.StakedBalanceAtSubmission
	if staked == "" {
		staked = "0"
	}

	query := `
		INSERT INTO claims (
			identity_key, campaign_id, display_name, wallet_address,
			staked_balance_units, decimals, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (identity_key, campaign_id) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := db.QueryRowContext(
		ctx, query,
		claim.IdentityKey,
		claim.CampaignID,
		claim.DisplayName,
		claim.WalletAddress,
		staked,
		claim.Decimals,
	).Scan(&claim.CreatedAt, &claim.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	return true, nil
}

// UpdateClaimTokenInfo attaches creator-token details to an existing claim
func (db *DB) UpdateClaimTokenInfo(ctx context.Context, identityKey, campaignID string, info models.TokenInfo) error {
	query := `
		UPDATE claims
		SET token_address = $3, token_name = $4, token_symbol = $5, updated_at = NOW()
		WHERE identity_key = $1 AND campaign_id = $2
	`
	res, err := db.ExecContext(ctx, query, identityKey, campaignID, info.Address, info.Name, info.Symbol)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListClaims returns a campaign's claims oldest first
func (db *DB) ListClaims(ctx context.Context, campaignID string, limit, offset int) ([]models.ClaimRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var claims []models.ClaimRecord
	query := `
		SELECT identity_key, campaign_id, display_name, wallet_address,
		       staked_balance_units::TEXT AS staked_balance_units, decimals,
		       token_address, token_name, token_symbol, created_at, updated_at
		FROM claims
		WHERE campaign_id = $1
		ORDER BY created_at ASC, identity_key ASC
		LIMIT $2 OFFSET $3
	`
	err := db.SelectContext(ctx, &claims, query, campaignID, limit, offset)
	return claims, err
}

// ==================== Deployment Queries ====================

// GetDeployment retrieves the creator-token deployment for an identity
func (db *DB) GetDeployment(ctx context.Context, identityKey string) (*models.CreatorTokenDeployment, error) {
	var d models.CreatorTokenDeployment
	query := `
		SELECT owner_identity_key, owner_address, chain_id, contract_address,
		       token_name, token_symbol, deploy_tx_hash, created_at
		FROM creator_token_deployments
		WHERE owner_identity_key = $1
	`
	err := db.GetContext(ctx, &d, query, identityKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// PutDeployment records a confirmed deployment. Any intent for the same
// identity is completed in the same transaction.
func (db *DB) PutDeployment(ctx context.Context, d *models.CreatorTokenDeployment) error {
	if d == nil || d.OwnerIdentityKey == "" || d.ContractAddress == "" {
		return registry.ErrInvalidInput
	}
	insert := `
		INSERT INTO creator_token_deployments (
			owner_identity_key, owner_address, chain_id, contract_address,
			token_name, token_symbol, deploy_tx_hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	complete := `
		UPDATE deploy_intents
		SET status = 'COMPLETED', updated_at = NOW()
		WHERE owner_identity_key = $1 AND status = 'PENDING'
	`
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowContext(
			ctx, insert,
			d.OwnerIdentityKey,
			d.OwnerAddress,
			d.ChainID,
			d.ContractAddress,
			d.TokenName,
			d.TokenSymbol,
			d.DeployTxHash,
		).Scan(&d.CreatedAt)
		if isUniqueViolation(err) {
			return registry.ErrDuplicateKey
		}
		if err != nil {
			return fmt.Errorf("failed to insert deployment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, complete, d.OwnerIdentityKey); err != nil {
			return fmt.Errorf("failed to complete deploy intent: %w", err)
		}
		return nil
	})
}

// GetDeployIntent retrieves the identity's deploy intent
func (db *DB) GetDeployIntent(ctx context.Context, identityKey string) (*models.DeployIntent, error) {
	var intent models.DeployIntent
	query := `
		SELECT owner_identity_key, owner_address, chain_id, expected_address,
		       token_name, token_symbol, campaign_id, deploy_tx_hash, status,
		       created_at, updated_at
		FROM deploy_intents
		WHERE owner_identity_key = $1
	`
	err := db.GetContext(ctx, &intent, query, identityKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// PutDeployIntent records a deploy intent, replacing an abandoned one or a
// pending one for the same expected address
func (db *DB) PutDeployIntent(ctx context.Context, intent *models.DeployIntent) error {
	if intent == nil || intent.OwnerIdentityKey == "" || intent.ExpectedAddress == "" {
		return registry.ErrInvalidInput
	}
	status := intent.Status
	if status == "" {
		status = models.DeployIntentPending
	}
	query := `
		INSERT INTO deploy_intents (
			owner_identity_key, owner_address, chain_id, expected_address,
			token_name, token_symbol, campaign_id, deploy_tx_hash, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (owner_identity_key) DO UPDATE SET
			owner_address = EXCLUDED.owner_address,
			chain_id = EXCLUDED.chain_id,
			expected_address = EXCLUDED.expected_address,
			token_name = EXCLUDED.token_name,
			token_symbol = EXCLUDED.token_symbol,
			campaign_id = EXCLUDED.campaign_id,
			deploy_tx_hash = EXCLUDED.deploy_tx_hash,
			status = EXCLUDED.status,
			updated_at = NOW()
		WHERE deploy_intents.status = 'ABANDONED'
			OR (deploy_intents.status = 'PENDING'
				AND LOWER(deploy_intents.expected_address) = LOWER(EXCLUDED.expected_address))
	`
	res, err := db.ExecContext(
		ctx, query,
		intent.OwnerIdentityKey,
		intent.OwnerAddress,
		intent.ChainID,
		intent.ExpectedAddress,
		intent.TokenName,
		intent.TokenSymbol,
		intent.CampaignID,
		intent.DeployTxHash,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to write deploy intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrDuplicateKey
	}
	return nil
}

// SetDeployIntentTx stores the broadcast hash on the identity's intent
func (db *DB) SetDeployIntentTx(ctx context.Context, identityKey, txHash string) error {
	query := `
		UPDATE deploy_intents
		SET deploy_tx_hash = $2, updated_at = NOW()
		WHERE owner_identity_key = $1
	`
	res, err := db.ExecContext(ctx, query, identityKey, txHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResolveDeployIntent moves an intent to a terminal status
func (db *DB) ResolveDeployIntent(ctx context.Context, identityKey string, status models.DeployIntentStatus) error {
	query := `
		UPDATE deploy_intents
		SET status = $2, updated_at = NOW()
		WHERE owner_identity_key = $1
	`
	res, err := db.ExecContext(ctx, query, identityKey, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListPendingDeployIntents returns intents awaiting reconciliation, oldest first
func (db *DB) ListPendingDeployIntents(ctx context.Context, limit int) ([]models.DeployIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var intents []models.DeployIntent
	query := `
		SELECT owner_identity_key, owner_address, chain_id, expected_address,
		       token_name, token_symbol, campaign_id, deploy_tx_hash, status,
		       created_at, updated_at
		FROM deploy_intents
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	err := db.SelectContext(ctx, &intents, query, limit)
	return intents, err
}

// ==================== Membership Queries ====================

// GetMembership retrieves a leaderboard entry
func (db *DB) GetMembership(ctx context.Context, identityKey, campaignID string) (*models.Membership, error) {
	var m models.Membership
	query := `
		SELECT identity_key, campaign_id, display_name, points, rank, updated_at
		FROM campaign_members
		WHERE identity_key = $1 AND campaign_id = $2
	`
	err := db.GetContext(ctx, &m, query, identityKey, campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMembership inserts or replaces a leaderboard entry
func (db *DB) UpsertMembership(ctx context.Context, m *models.Membership) error {
	if m == nil || m.IdentityKey == "" || m.CampaignID == "" {
		return registry.ErrInvalidInput
	}
	query := `
		INSERT INTO campaign_members (identity_key, campaign_id, display_name, points, rank, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identity_key, campaign_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			points = EXCLUDED.points,
			rank = EXCLUDED.rank,
			updated_at = NOW()
	`
	_, err := db.ExecContext(ctx, query, m.IdentityKey, m.CampaignID, m.DisplayName, m.Points, m.Rank)
	return err
}

// ListMembers returns the campaign leaderboard, highest points first
func (db *DB) ListMembers(ctx context.Context, campaignID string, limit int) ([]models.Membership, error) {
	if limit <= 0 {
		limit = 100
	}
	var members []models.Membership
	query := `
		SELECT identity_key, campaign_id, display_name, points, rank, updated_at
		FROM campaign_members
		WHERE campaign_id = $1
		ORDER BY points DESC, identity_key ASC
		LIMIT $2
	`
	err := db.SelectContext(ctx, &members, query, campaignID, limit)
	return members, err
}

// ==================== Stake Journal Queries ====================

// BeginStakeAttempt inserts a new in-progress attempt
func (db *DB) BeginStakeAttempt(ctx context.Context, attempt *models.StakeAttempt) error {
	if attempt == nil || attempt.IdempotencyKey == "" {
		return registry.ErrInvalidInput
	}
	status := attempt.Status
	if status == "" {
		status = models.StakeAttemptInProgress
	}
	query := `
		INSERT INTO stake_attempts (
			idempotency_key, wallet_address, campaign_id, amount_units, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	res, err := db.ExecContext(
		ctx, query,
		attempt.IdempotencyKey,
		attempt.WalletAddress,
		attempt.CampaignID,
		attempt.AmountUnits,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stake attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrDuplicateKey
	}
	return nil
}

// FinishStakeAttempt records the outcome of a stake run
func (db *DB) FinishStakeAttempt(ctx context.Context, key string, result models.StakeAttemptResult) error {
	query := `
		UPDATE stake_attempts
		SET status = $2, approve_tx_hash = $3, stake_tx_hash = $4,
		    failed_step = $5, error_message = $6, updated_at = NOW()
		WHERE idempotency_key = $1
	`
	res, err := db.ExecContext(
		ctx, query,
		key,
		result.Status,
		ToNullString(result.ApproveTxHash),
		ToNullString(result.StakeTxHash),
		ToNullString(result.FailedStep),
		ToNullString(result.ErrorMessage),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetStakeAttempt retrieves an attempt by idempotency key
func (db *DB) GetStakeAttempt(ctx context.Context, key string) (*models.StakeAttempt, error) {
	var a models.StakeAttempt
	query := `
		SELECT idempotency_key, wallet_address, campaign_id,
		       amount_units::TEXT AS amount_units, status,
		       approve_tx_hash, stake_tx_hash, failed_step, error_message,
		       created_at, updated_at
		FROM stake_attempts
		WHERE idempotency_key = $1
	`
	err := db.GetContext(ctx, &a, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
