// Package pebblestore is an embedded registry backend on PebbleDB for
// single-node deployments that do not run PostgreSQL.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
)

// Key layout. All values are JSON.
const (
	prefixClaim  = "claim/"  // claim/{campaign}/{identity}
	prefixDeploy = "deploy/" // deploy/{identity}
	prefixIntent = "intent/" // intent/{identity}
	prefixMember = "member/" // member/{campaign}/{identity}
	prefixStake  = "stake/"  // stake/{idempotency key}
)

// Store implements registry.Registry on a single Pebble instance.
type Store struct {
	db     *pebble.DB
	logger *zap.Logger

	// writeMu serialises read-modify-write sequences; Pebble has no
	// conditional put.
	writeMu sync.Mutex
}

// Open opens (or creates) the store under dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	return OpenWithOptions(dir, &pebble.Options{}, logger)
}

// OpenWithOptions is Open with caller-supplied Pebble options.
func OpenWithOptions(dir string, opts *pebble.Options, logger *zap.Logger) (*Store, error) {
	if opts.FS == nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	logger.Info("Pebble registry opened", zap.String("dir", dir))
	return &Store{db: db, logger: logger}, nil
}

var _ registry.Registry = (*Store)(nil)

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func claimKey(campaignID, identityKey string) []byte {
	return []byte(prefixClaim + campaignID + "/" + identityKey)
}

func memberKey(campaignID, identityKey string) []byte {
	return []byte(prefixMember + campaignID + "/" + identityKey)
}

// get decodes the value at key into v. Returns false when the key is absent.
func (s *Store) get(key []byte, v any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// scan calls fn with every value under prefix in key order.
func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	upper := []byte(prefix)
	upper[len(upper)-1]++

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ==================== Claims ====================

func (s *Store) GetClaim(_ context.Context, identityKey, campaignID string) (*models.ClaimRecord, error) {
	var c models.ClaimRecord
	found, err := s.get(claimKey(campaignID, identityKey), &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PutClaimIfAbsent(_ context.Context, claim *models.ClaimRecord) (bool, error) {
	if claim == nil || claim.IdentityKey == "" || claim.CampaignID == "" {
		return false, registry.ErrInvalidInput
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := claimKey(claim.CampaignID, claim.IdentityKey)
	var existing models.ClaimRecord
	found, err := s.get(key, &existing)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}

	cp := *claim
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	if err := s.put(key, &cp); err != nil {
		return false, err
	}
	claim.CreatedAt, claim.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return true, nil
}

func (s *Store) UpdateClaimTokenInfo(_ context.Context, identityKey, campaignID string, info models.TokenInfo) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := claimKey(campaignID, identityKey)
	var c models.ClaimRecord
	found, err := s.get(key, &c)
	if err != nil {
		return err
	}
	if !found {
		return registry.ErrNotFound
	}
	c.TokenAddress, c.TokenName, c.TokenSymbol = &info.Address, &info.Name, &info.Symbol
	c.UpdatedAt = time.Now().UTC()
	return s.put(key, &c)
}

func (s *Store) ListClaims(_ context.Context, campaignID string, limit, offset int) ([]models.ClaimRecord, error) {
	var all []models.ClaimRecord
	err := s.scan(prefixClaim+campaignID+"/", func(val []byte) error {
		var c models.ClaimRecord
		if err := json.Unmarshal(val, &c); err != nil {
			return fmt.Errorf("failed to decode claim: %w", err)
		}
		all = append(all, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, limit, offset), nil
}

// ==================== Deployments ====================

func (s *Store) GetDeployment(_ context.Context, identityKey string) (*models.CreatorTokenDeployment, error) {
	var d models.CreatorTokenDeployment
	found, err := s.get([]byte(prefixDeploy+identityKey), &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

func (s *Store) PutDeployment(_ context.Context, d *models.CreatorTokenDeployment) error {
	if d == nil || d.OwnerIdentityKey == "" || d.ContractAddress == "" {
		return registry.ErrInvalidInput
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := []byte(prefixDeploy + d.OwnerIdentityKey)
	var existing models.CreatorTokenDeployment
	found, err := s.get(key, &existing)
	if err != nil {
		return err
	}
	if found {
		return registry.ErrDuplicateKey
	}

	cp := *d
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return s.put(key, &cp)
}

func (s *Store) PutDeployIntent(_ context.Context, intent *models.DeployIntent) error {
	if intent == nil || intent.OwnerIdentityKey == "" || intent.ExpectedAddress == "" {
		return registry.ErrInvalidInput
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := []byte(prefixIntent + intent.OwnerIdentityKey)
	var existing models.DeployIntent
	found, err := s.get(key, &existing)
	if err != nil {
		return err
	}
	if found && registry.IntentBlocks(&existing, intent) {
		return registry.ErrDuplicateKey
	}

	cp := *intent
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = models.DeployIntentPending
	}
	return s.put(key, &cp)
}

func (s *Store) GetDeployIntent(_ context.Context, identityKey string) (*models.DeployIntent, error) {
	var intent models.DeployIntent
	found, err := s.get([]byte(prefixIntent+identityKey), &intent)
	if err != nil || !found {
		return nil, err
	}
	return &intent, nil
}

func (s *Store) SetDeployIntentTx(_ context.Context, identityKey, txHash string) error {
	return s.updateIntent(identityKey, func(i *models.DeployIntent) { i.DeployTxHash = &txHash })
}

func (s *Store) ResolveDeployIntent(_ context.Context, identityKey string, status models.DeployIntentStatus) error {
	return s.updateIntent(identityKey, func(i *models.DeployIntent) { i.Status = status })
}

func (s *Store) updateIntent(identityKey string, mutate func(*models.DeployIntent)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := []byte(prefixIntent + identityKey)
	var intent models.DeployIntent
	found, err := s.get(key, &intent)
	if err != nil {
		return err
	}
	if !found {
		return registry.ErrNotFound
	}
	mutate(&intent)
	intent.UpdatedAt = time.Now().UTC()
	return s.put(key, &intent)
}

func (s *Store) ListPendingDeployIntents(_ context.Context, limit int) ([]models.DeployIntent, error) {
	var out []models.DeployIntent
	err := s.scan(prefixIntent, func(val []byte) error {
		var i models.DeployIntent
		if err := json.Unmarshal(val, &i); err != nil {
			return fmt.Errorf("failed to decode deploy intent: %w", err)
		}
		if i.Status == models.DeployIntentPending {
			out = append(out, i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

// ==================== Membership ====================

func (s *Store) GetMembership(_ context.Context, identityKey, campaignID string) (*models.Membership, error) {
	var m models.Membership
	found, err := s.get(memberKey(campaignID, identityKey), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpsertMembership(_ context.Context, m *models.Membership) error {
	if m == nil || m.IdentityKey == "" || m.CampaignID == "" {
		return registry.ErrInvalidInput
	}
	cp := *m
	cp.UpdatedAt = time.Now().UTC()
	return s.put(memberKey(m.CampaignID, m.IdentityKey), &cp)
}

func (s *Store) ListMembers(_ context.Context, campaignID string, limit int) ([]models.Membership, error) {
	var out []models.Membership
	err := s.scan(prefixMember+campaignID+"/", func(val []byte) error {
		var m models.Membership
		if err := json.Unmarshal(val, &m); err != nil {
			return fmt.Errorf("failed to decode membership: %w", err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return paginate(out, limit, 0), nil
}

// ==================== Stake journal ====================

func (s *Store) BeginStakeAttempt(_ context.Context, attempt *models.StakeAttempt) error {
	if attempt == nil || attempt.IdempotencyKey == "" {
		return registry.ErrInvalidInput
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := []byte(prefixStake + attempt.IdempotencyKey)
	var existing models.StakeAttempt
	found, err := s.get(key, &existing)
	if err != nil {
		return err
	}
	if found {
		return registry.ErrDuplicateKey
	}

	cp := *attempt
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	if cp.Status == "" {
		cp.Status = models.StakeAttemptInProgress
	}
	return s.put(key, &cp)
}

func (s *Store) FinishStakeAttempt(_ context.Context, key string, result models.StakeAttemptResult) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	k := []byte(prefixStake + key)
	var a models.StakeAttempt
	found, err := s.get(k, &a)
	if err != nil {
		return err
	}
	if !found {
		return registry.ErrNotFound
	}
	a.Status = result.Status
	a.ApproveTxHash = optional(result.ApproveTxHash)
	a.StakeTxHash = optional(result.StakeTxHash)
	a.FailedStep = optional(result.FailedStep)
	a.ErrorMessage = optional(result.ErrorMessage)
	a.UpdatedAt = time.Now().UTC()
	return s.put(k, &a)
}

func (s *Store) GetStakeAttempt(_ context.Context, key string) (*models.StakeAttempt, error) {
	var a models.StakeAttempt
	found, err := s.get([]byte(prefixStake+key), &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
