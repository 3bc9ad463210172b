// Package registrytest holds behavioral checks shared by every registry backend.
package registrytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
)

// Factory returns a fresh, empty registry for one subtest.
type Factory func(t *testing.T) registry.Registry

// Run exercises the full registry contract against the backend built by newRegistry.
func Run(t *testing.T, newRegistry Factory) {
	t.Run("ClaimIfAbsent", func(t *testing.T) { testClaimIfAbsent(t, newRegistry(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newRegistry(t)) })
	t.Run("ClaimTokenInfo", func(t *testing.T) { testClaimTokenInfo(t, newRegistry(t)) })
	t.Run("ListClaims", func(t *testing.T) { testListClaims(t, newRegistry(t)) })
	t.Run("Deployment", func(t *testing.T) { testDeployment(t, newRegistry(t)) })
	t.Run("DeployIntent", func(t *testing.T) { testDeployIntent(t, newRegistry(t)) })
	t.Run("Membership", func(t *testing.T) { testMembership(t, newRegistry(t)) })
	t.Run("StakeJournal", func(t *testing.T) { testStakeJournal(t, newRegistry(t)) })
}

func claim(identity, campaign string) *models.ClaimRecord {
	return &models.ClaimRecord{
		IdentityKey:               identity,
		DisplayName:               "user " + identity,
		CampaignID:                campaign,
		WalletAddress:             "0x1111111111111111111111111111111111111111",
		StakedBalanceAtSubmission: "15000000000000000000000",
		Decimals:                  18,
	}
}

func testClaimIfAbsent(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	got, err := r.GetClaim(ctx, "alice", "camp-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := r.PutClaimIfAbsent(ctx, claim("alice", "camp-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	second := claim("alice", "camp-1")
	second.WalletAddress = "0x2222222222222222222222222222222222222222"
	ok, err = r.PutClaimIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be rejected")

	got, err = r.GetClaim(ctx, "alice", "camp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", got.WalletAddress, "first claim must not be overwritten")
	assert.Equal(t, "15000000000000000000000", got.StakedBalanceAtSubmission)
	assert.Equal(t, uint8(18), got.Decimals)
	assert.Nil(t, got.TokenAddress)

	// Same identity, different campaign is a separate claim.
	ok, err = r.PutClaimIfAbsent(ctx, claim("alice", "camp-2"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.PutClaimIfAbsent(ctx, &models.ClaimRecord{CampaignID: "camp-1"})
	assert.ErrorIs(t, err, registry.ErrInvalidInput)
}

func testConcurrentClaim(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := claim("bob", "camp-1")
			c.WalletAddress = fmt.Sprintf("0x%040d", i)
			ok, err := r.PutClaimIfAbsent(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created, "exactly one concurrent claim must win")
}

func testClaimTokenInfo(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	err := r.UpdateClaimTokenInfo(ctx, "carol", "camp-1", models.TokenInfo{Address: "0xabc", Name: "Carol", Symbol: "CRL"})
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = r.PutClaimIfAbsent(ctx, claim("carol", "camp-1"))
	require.NoError(t, err)

	err = r.UpdateClaimTokenInfo(ctx, "carol", "camp-1", models.TokenInfo{Address: "0xabc", Name: "Carol", Symbol: "CRL"})
	require.NoError(t, err)

	got, err := r.GetClaim(ctx, "carol", "camp-1")
	require.NoError(t, err)
	require.NotNil(t, got.TokenAddress)
	assert.Equal(t, "0xabc", *got.TokenAddress)
	assert.Equal(t, "Carol", *got.TokenName)
	assert.Equal(t, "CRL", *got.TokenSymbol)
	assert.Equal(t, "15000000000000000000000", got.StakedBalanceAtSubmission)
}

func testListClaims(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.PutClaimIfAbsent(ctx, claim(id, "camp-list"))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := r.PutClaimIfAbsent(ctx, claim("z", "other"))
	require.NoError(t, err)

	all, err := r.ListClaims(ctx, "camp-list", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].IdentityKey)
	assert.Equal(t, "c", all[2].IdentityKey)

	page, err := r.ListClaims(ctx, "camp-list", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].IdentityKey)
}

func testDeployment(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	got, err := r.GetDeployment(ctx, "dave")
	require.NoError(t, err)
	assert.Nil(t, got)

	d := &models.CreatorTokenDeployment{
		OwnerIdentityKey: "dave",
		OwnerAddress:     "0x1111111111111111111111111111111111111111",
		ChainID:          "84532",
		ContractAddress:  "0x3333333333333333333333333333333333333333",
		TokenName:        "Dave",
		TokenSymbol:      "DAVE",
		DeployTxHash:     "0xdeadbeef",
	}
	require.NoError(t, r.PutDeployment(ctx, d))

	dup := *d
	dup.ContractAddress = "0x4444444444444444444444444444444444444444"
	assert.ErrorIs(t, r.PutDeployment(ctx, &dup), registry.ErrDuplicateKey)

	got, err = r.GetDeployment(ctx, "dave")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ContractAddress, got.ContractAddress)
	assert.Equal(t, "DAVE", got.TokenSymbol)
	assert.False(t, got.CreatedAt.IsZero())
}

func testDeployIntent(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	assert.ErrorIs(t, r.SetDeployIntentTx(ctx, "erin", "0x01"), registry.ErrNotFound)

	intent := &models.DeployIntent{
		OwnerIdentityKey: "erin",
		OwnerAddress:     "0x1111111111111111111111111111111111111111",
		ChainID:          "84532",
		ExpectedAddress:  "0x5555555555555555555555555555555555555555",
		TokenName:        "Erin",
		TokenSymbol:      "ERIN",
		CampaignID:       "camp-1",
	}
	require.NoError(t, r.PutDeployIntent(ctx, intent))
	require.NoError(t, r.SetDeployIntentTx(ctx, "erin", "0xfeed"))

	pending, err := r.ListPendingDeployIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.DeployIntentPending, pending[0].Status)
	require.NotNil(t, pending[0].DeployTxHash)
	assert.Equal(t, "0xfeed", *pending[0].DeployTxHash)

	// A retry before completion replaces the intent.
	retry := *intent
	retry.TokenSymbol = "ERN"
	require.NoError(t, r.PutDeployIntent(ctx, &retry))
	pending, err = r.ListPendingDeployIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ERN", pending[0].TokenSymbol)

	// A live intent for another contract is never overwritten.
	rival := *intent
	rival.OwnerAddress = "0x2222222222222222222222222222222222222222"
	rival.ExpectedAddress = "0x6666666666666666666666666666666666666666"
	assert.ErrorIs(t, r.PutDeployIntent(ctx, &rival), registry.ErrDuplicateKey)
	got, err := r.GetDeployIntent(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, intent.ExpectedAddress, got.ExpectedAddress)

	// Once abandoned, any new intent may take its place.
	require.NoError(t, r.ResolveDeployIntent(ctx, "erin", models.DeployIntentAbandoned))
	require.NoError(t, r.PutDeployIntent(ctx, &rival))
	require.NoError(t, r.ResolveDeployIntent(ctx, "erin", models.DeployIntentAbandoned))
	require.NoError(t, r.PutDeployIntent(ctx, &retry))

	require.NoError(t, r.ResolveDeployIntent(ctx, "erin", models.DeployIntentCompleted))
	pending, err = r.ListPendingDeployIntents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err = r.GetDeployIntent(ctx, "erin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.DeployIntentCompleted, got.Status)
	assert.Equal(t, "ERN", got.TokenSymbol)

	missing, err := r.GetDeployIntent(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, r.PutDeployIntent(ctx, &retry), registry.ErrDuplicateKey)
}

func testMembership(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	got, err := r.GetMembership(ctx, "frank", "camp-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	entries := []models.Membership{
		{IdentityKey: "frank", CampaignID: "camp-1", DisplayName: "Frank", Points: 10, Rank: 3},
		{IdentityKey: "gina", CampaignID: "camp-1", DisplayName: "Gina", Points: 50, Rank: 1},
		{IdentityKey: "hal", CampaignID: "camp-1", DisplayName: "Hal", Points: 30, Rank: 2},
		{IdentityKey: "ivy", CampaignID: "camp-2", DisplayName: "Ivy", Points: 99, Rank: 1},
	}
	for i := range entries {
		require.NoError(t, r.UpsertMembership(ctx, &entries[i]))
	}

	got, err = r.GetMembership(ctx, "frank", "camp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.Points)

	// Upsert replaces.
	require.NoError(t, r.UpsertMembership(ctx, &models.Membership{IdentityKey: "frank", CampaignID: "camp-1", DisplayName: "Frank", Points: 70, Rank: 1}))

	list, err := r.ListMembers(ctx, "camp-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "frank", list[0].IdentityKey)
	assert.Equal(t, "gina", list[1].IdentityKey)
	assert.Equal(t, "hal", list[2].IdentityKey)

	top, err := r.ListMembers(ctx, "camp-1", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func testStakeJournal(t *testing.T, r registry.Registry) {
	ctx := context.Background()

	assert.ErrorIs(t, r.FinishStakeAttempt(ctx, "k1", models.StakeAttemptResult{Status: models.StakeAttemptStaked}), registry.ErrNotFound)

	attempt := &models.StakeAttempt{
		IdempotencyKey: "k1",
		WalletAddress:  "0x1111111111111111111111111111111111111111",
		CampaignID:     "camp-1",
		AmountUnits:    "1000",
	}
	require.NoError(t, r.BeginStakeAttempt(ctx, attempt))
	assert.ErrorIs(t, r.BeginStakeAttempt(ctx, attempt), registry.ErrDuplicateKey)

	got, err := r.GetStakeAttempt(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StakeAttemptInProgress, got.Status)

	require.NoError(t, r.FinishStakeAttempt(ctx, "k1", models.StakeAttemptResult{
		Status:        models.StakeAttemptFailed,
		ApproveTxHash: "0xaa",
		FailedStep:    string(models.StepStake),
		ErrorMessage:  "paused",
	}))
	got, err = r.GetStakeAttempt(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, models.StakeAttemptFailed, got.Status)
	require.NotNil(t, got.ApproveTxHash)
	assert.Equal(t, "0xaa", *got.ApproveTxHash)
	assert.Nil(t, got.StakeTxHash)
	require.NotNil(t, got.FailedStep)
	assert.Equal(t, "stake", *got.FailedStep)

	missing, err := r.GetStakeAttempt(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
