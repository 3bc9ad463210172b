package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/models"
)

func TestSubmitClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))

	claim, err := h.claims.SubmitClaim(ctx, ClaimRequest{
		Identity:   models.Identity{Key: "twitter:alice", DisplayName: "Alice"},
		CampaignID: "LAUNCH",
		Wallet:     w.Address(),
	})
	require.NoError(t, err)
	assert.Equal(t, "launch", claim.CampaignID)
	assert.Equal(t, whole(15_000).String(), claim.StakedBalanceAtSubmission)
	assert.Equal(t, uint8(6), claim.Decimals)
	assert.Nil(t, claim.TokenAddress)

	got, err := h.claims.GetClaim(ctx, "twitter:alice", "launch")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.Address().Hex(), got.WalletAddress)

	_, err = h.claims.SubmitClaim(ctx, ClaimRequest{
		Identity:   models.Identity{Key: "twitter:alice", DisplayName: "Alice"},
		CampaignID: "launch",
		Wallet:     newWallet(t).Address(),
	})
	assert.True(t, errors.Is(err, errs.ErrDuplicateClaim))

	stored, err := h.claims.GetClaim(ctx, "twitter:alice", "launch")
	require.NoError(t, err)
	assert.Equal(t, w.Address().Hex(), stored.WalletAddress, "the first claim is never overwritten")
}

func TestSubmitClaimNotEligible(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(9_000))

	_, err := h.claims.SubmitClaim(context.Background(), ClaimRequest{
		Identity:   models.Identity{Key: "twitter:bob"},
		CampaignID: "launch",
		Wallet:     w.Address(),
	})
	assert.True(t, errors.Is(err, errs.ErrNotEligible))

	claims, err := h.claims.ListClaims(context.Background(), "launch", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestConcurrentClaimsOneRecord(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.claims.SubmitClaim(context.Background(), ClaimRequest{
				Identity:   models.Identity{Key: "twitter:alice", DisplayName: "Alice"},
				CampaignID: "launch",
				Wallet:     w.Address(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, errs.ErrDuplicateClaim):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, dupes)

	claims, err := h.claims.ListClaims(context.Background(), "launch", 100, 0)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestSubmitClaimCarriesDeployment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)

	res, err := h.creator.Deploy(ctx, deployRequest(owner, "twitter:alice"))
	require.NoError(t, err)

	claim, err := h.claims.SubmitClaim(ctx, ClaimRequest{
		Identity:   models.Identity{Key: "twitter:alice", DisplayName: "Alice"},
		CampaignID: "creators",
		Wallet:     owner.Address(),
	})
	require.NoError(t, err)
	require.NotNil(t, claim.TokenAddress)
	assert.Equal(t, res.Deployment.ContractAddress, *claim.TokenAddress)
	assert.Equal(t, "ALC", *claim.TokenSymbol)
}

func TestImportMembers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	n, err := h.claims.ImportMembers(ctx, "creators", []models.Membership{
		{IdentityKey: "twitter:carol", DisplayName: "Carol", Points: 10},
		{IdentityKey: "twitter:alice", DisplayName: "Alice", Points: 40},
		{IdentityKey: "twitter:bob", DisplayName: "Bob", Points: 40},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	board, err := h.claims.Leaderboard(ctx, "creators", 10)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 1, board[1].Rank, "ties share a rank")
	assert.Equal(t, "twitter:carol", board[2].IdentityKey)
	assert.Equal(t, 3, board[2].Rank)

	assert.NoError(t, h.verifier.RequireMembership(ctx, "twitter:carol", "creators"))

	_, err = h.claims.ImportMembers(ctx, "creators", []models.Membership{{Points: 1}})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}
