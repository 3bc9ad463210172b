// Package memory is an in-process registry used in tests and single-node
// development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
)

type claimKey struct {
	identity string
	campaign string
}

// Registry is an in-memory implementation of registry.Registry.
type Registry struct {
	mu          sync.RWMutex
	claims      map[claimKey]*models.ClaimRecord
	claimOrder  []claimKey
	deployments map[string]*models.CreatorTokenDeployment
	intents     map[string]*models.DeployIntent
	members     map[claimKey]*models.Membership
	attempts    map[string]*models.StakeAttempt

	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		claims:      make(map[claimKey]*models.ClaimRecord),
		deployments: make(map[string]*models.CreatorTokenDeployment),
		intents:     make(map[string]*models.DeployIntent),
		members:     make(map[claimKey]*models.Membership),
		attempts:    make(map[string]*models.StakeAttempt),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ registry.Registry = (*Registry)(nil)

// Close is a no-op.
func (r *Registry) Close() error { return nil }

// ==================== Claims ====================

func (r *Registry) GetClaim(_ context.Context, identityKey, campaignID string) (*models.ClaimRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.claims[claimKey{identityKey, campaignID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *Registry) PutClaimIfAbsent(_ context.Context, claim *models.ClaimRecord) (bool, error) {
	if claim == nil || claim.IdentityKey == "" || claim.CampaignID == "" {
		return false, registry.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := claimKey{claim.IdentityKey, claim.CampaignID}
	if _, exists := r.claims[key]; exists {
		return false, nil
	}

	cp := *claim
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	r.claims[key] = &cp
	r.claimOrder = append(r.claimOrder, key)
	claim.CreatedAt, claim.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return true, nil
}

func (r *Registry) UpdateClaimTokenInfo(_ context.Context, identityKey, campaignID string, info models.TokenInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.claims[claimKey{identityKey, campaignID}]
	if !ok {
		return registry.ErrNotFound
	}
	addr, name, symbol := info.Address, info.Name, info.Symbol
	c.TokenAddress, c.TokenName, c.TokenSymbol = &addr, &name, &symbol
	c.UpdatedAt = r.now()
	return nil
}

func (r *Registry) ListClaims(_ context.Context, campaignID string, limit, offset int) ([]models.ClaimRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ClaimRecord
	skipped := 0
	for _, key := range r.claimOrder {
		if key.campaign != campaignID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *r.claims[key])
	}
	return out, nil
}

// ==================== Deployments ====================

func (r *Registry) GetDeployment(_ context.Context, identityKey string) (*models.CreatorTokenDeployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deployments[identityKey]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *Registry) PutDeployment(_ context.Context, d *models.CreatorTokenDeployment) error {
	if d == nil || d.OwnerIdentityKey == "" || d.ContractAddress == "" {
		return registry.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.deployments[d.OwnerIdentityKey]; exists {
		return registry.ErrDuplicateKey
	}
	cp := *d
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.deployments[d.OwnerIdentityKey] = &cp
	return nil
}

func (r *Registry) PutDeployIntent(_ context.Context, intent *models.DeployIntent) error {
	if intent == nil || intent.OwnerIdentityKey == "" || intent.ExpectedAddress == "" {
		return registry.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.intents[intent.OwnerIdentityKey]; ok && registry.IntentBlocks(existing, intent) {
		return registry.ErrDuplicateKey
	}
	cp := *intent
	now := r.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = models.DeployIntentPending
	}
	r.intents[intent.OwnerIdentityKey] = &cp
	return nil
}

func (r *Registry) GetDeployIntent(_ context.Context, identityKey string) (*models.DeployIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[identityKey]
	if !ok {
		return nil, nil
	}
	cp := *intent
	return &cp, nil
}

func (r *Registry) SetDeployIntentTx(_ context.Context, identityKey, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[identityKey]
	if !ok {
		return registry.ErrNotFound
	}
	intent.DeployTxHash = &txHash
	intent.UpdatedAt = r.now()
	return nil
}

func (r *Registry) ResolveDeployIntent(_ context.Context, identityKey string, status models.DeployIntentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[identityKey]
	if !ok {
		return registry.ErrNotFound
	}
	intent.Status = status
	intent.UpdatedAt = r.now()
	return nil
}

func (r *Registry) ListPendingDeployIntents(_ context.Context, limit int) ([]models.DeployIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.DeployIntent
	for _, intent := range r.intents {
		if intent.Status == models.DeployIntentPending {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ==================== Membership ====================

func (r *Registry) GetMembership(_ context.Context, identityKey, campaignID string) (*models.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[claimKey{identityKey, campaignID}]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *Registry) UpsertMembership(_ context.Context, m *models.Membership) error {
	if m == nil || m.IdentityKey == "" || m.CampaignID == "" {
		return registry.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *m
	cp.UpdatedAt = r.now()
	r.members[claimKey{m.IdentityKey, m.CampaignID}] = &cp
	return nil
}

func (r *Registry) ListMembers(_ context.Context, campaignID string, limit int) ([]models.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Membership
	for key, m := range r.members {
		if key.campaign == campaignID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].IdentityKey < out[j].IdentityKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ==================== Stake journal ====================

func (r *Registry) BeginStakeAttempt(_ context.Context, attempt *models.StakeAttempt) error {
	if attempt == nil || attempt.IdempotencyKey == "" {
		return registry.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[attempt.IdempotencyKey]; exists {
		return registry.ErrDuplicateKey
	}
	cp := *attempt
	now := r.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	if cp.Status == "" {
		cp.Status = models.StakeAttemptInProgress
	}
	r.attempts[attempt.IdempotencyKey] = &cp
	return nil
}

func (r *Registry) FinishStakeAttempt(_ context.Context, key string, result models.StakeAttemptResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[key]
	if !ok {
		return registry.ErrNotFound
	}
	a.Status = result.Status
	a.ApproveTxHash = optional(result.ApproveTxHash)
	a.StakeTxHash = optional(result.StakeTxHash)
	a.FailedStep = optional(result.FailedStep)
	a.ErrorMessage = optional(result.ErrorMessage)
	a.UpdatedAt = r.now()
	return nil
}

func (r *Registry) GetStakeAttempt(_ context.Context, key string) (*models.StakeAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.attempts[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
