// Package registry defines the persistence contract for claims, creator-token
// deployments, leaderboard membership and the stake idempotency journal.
//
// The if-absent writes are load-bearing: they are the only thing standing
// between concurrent submissions and duplicate records, so every backend must
// implement them atomically.
package registry

import (
	"context"
	"errors"
	"strings"

	"airdrop/offchain/internal/models"
)

var (
	// ErrNotFound is returned by updates that target a missing record.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an if-absent write finds an existing record.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a record is missing its key fields.
	ErrInvalidInput = errors.New("invalid input")
)

// ClaimStore persists one claim per (identity, campaign).
type ClaimStore interface {
	// GetClaim returns nil, nil when no claim exists.
	GetClaim(ctx context.Context, identityKey, campaignID string) (*models.ClaimRecord, error)

	// PutClaimIfAbsent stores the claim and returns true, or returns false when a
	// claim for the same (identity, campaign) already exists. It never overwrites.
	PutClaimIfAbsent(ctx context.Context, claim *models.ClaimRecord) (bool, error)

	// UpdateClaimTokenInfo is the only mutation allowed on an existing claim.
	// Returns ErrNotFound if there is no claim.
	UpdateClaimTokenInfo(ctx context.Context, identityKey, campaignID string, info models.TokenInfo) error

	// ListClaims returns claims for a campaign, oldest first.
	ListClaims(ctx context.Context, campaignID string, limit, offset int) ([]models.ClaimRecord, error)
}

// DeploymentStore persists one creator-token deployment per identity.
type DeploymentStore interface {
	// GetDeployment returns nil, nil when the identity has not deployed.
	GetDeployment(ctx context.Context, identityKey string) (*models.CreatorTokenDeployment, error)

	// PutDeployment stores a confirmed deployment. Returns ErrDuplicateKey if the
	// identity already has one.
	PutDeployment(ctx context.Context, d *models.CreatorTokenDeployment) error

	// PutDeployIntent records the identity's intent. It replaces an abandoned
	// intent or a pending one for the same expected address; a completed
	// intent or a pending one for another address is ErrDuplicateKey.
	PutDeployIntent(ctx context.Context, intent *models.DeployIntent) error

	// GetDeployIntent returns the identity's intent in any status, or nil, nil.
	GetDeployIntent(ctx context.Context, identityKey string) (*models.DeployIntent, error)

	// SetDeployIntentTx attaches the broadcast hash to the identity's intent.
	SetDeployIntentTx(ctx context.Context, identityKey, txHash string) error

	// ResolveDeployIntent moves the identity's intent to a terminal status.
	ResolveDeployIntent(ctx context.Context, identityKey string, status models.DeployIntentStatus) error

	// ListPendingDeployIntents returns intents still awaiting reconciliation.
	ListPendingDeployIntents(ctx context.Context, limit int) ([]models.DeployIntent, error)
}

// MembershipStore holds the off-chain leaderboard.
type MembershipStore interface {
	// GetMembership returns nil, nil for identities outside the leaderboard.
	GetMembership(ctx context.Context, identityKey, campaignID string) (*models.Membership, error)

	// UpsertMembership inserts or replaces a leaderboard entry.
	UpsertMembership(ctx context.Context, m *models.Membership) error

	// ListMembers returns the leaderboard ordered by points descending.
	ListMembers(ctx context.Context, campaignID string, limit int) ([]models.Membership, error)
}

// StakeJournal records stake runs by idempotency key.
type StakeJournal interface {
	// BeginStakeAttempt inserts the attempt. Returns ErrDuplicateKey if the key exists.
	BeginStakeAttempt(ctx context.Context, attempt *models.StakeAttempt) error

	// FinishStakeAttempt records the terminal outcome. Returns ErrNotFound for unknown keys.
	FinishStakeAttempt(ctx context.Context, key string, result models.StakeAttemptResult) error

	// GetStakeAttempt returns nil, nil for unknown keys.
	GetStakeAttempt(ctx context.Context, key string) (*models.StakeAttempt, error)
}

// Registry is the full persistence surface used by the service.
type Registry interface {
	ClaimStore
	DeploymentStore
	MembershipStore
	StakeJournal
	Close() error
}

// IntentBlocks reports whether existing prevents next from being recorded.
func IntentBlocks(existing, next *models.DeployIntent) bool {
	switch existing.Status {
	case models.DeployIntentCompleted:
		return true
	case models.DeployIntentPending:
		return !strings.EqualFold(existing.ExpectedAddress, next.ExpectedAddress)
	}
	return false
}
