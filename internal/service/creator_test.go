package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/models"
)

func addMember(t *testing.T, h *harness, identityKey string) {
	t.Helper()
	require.NoError(t, h.reg.UpsertMembership(context.Background(), &models.Membership{
		IdentityKey: identityKey,
		CampaignID:  "creators",
		DisplayName: identityKey,
		Points:      100,
		Rank:        1,
	}))
}

func deployRequest(w evm.Wallet, identityKey string) DeployRequest {
	return DeployRequest{
		Identity:    models.Identity{Key: identityKey, DisplayName: identityKey},
		CampaignID:  "creators",
		Wallet:      w,
		TokenName:   "Alice Token",
		TokenSymbol: " alc ",
	}
}

func TestMintBeforeDeploy(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	w := newWallet(t)

	_, err := h.creator.Mint(context.Background(), MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: w, Amount: "10"})
	assert.True(t, errors.Is(err, errs.ErrPrecondition))
	assert.Empty(t, h.chain.Txs(), "no transaction before a deployment exists")
}

func TestDeployRequiresMembership(t *testing.T) {
	h := newHarness(t)
	req := deployRequest(newWallet(t), "twitter:mallory")

	_, err := h.creator.Deploy(context.Background(), req)
	assert.Equal(t, errs.KindNotEligible, errs.KindOf(err))
	assert.Empty(t, h.chain.Txs())
}

func TestDeployValidation(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")

	req := deployRequest(newWallet(t), "twitter:alice")
	req.TokenSymbol = "   "
	_, err := h.creator.Deploy(context.Background(), req)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	req.TokenSymbol = "ALC"
	req.TokenName = ""
	_, err = h.creator.Deploy(context.Background(), req)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestDeployAndMint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)

	// Existing claim gets enriched once the token exists.
	created, err := h.reg.PutClaimIfAbsent(ctx, &models.ClaimRecord{
		IdentityKey:   "twitter:alice",
		CampaignID:    "creators",
		WalletAddress: owner.Address().Hex(),
	})
	require.NoError(t, err)
	require.True(t, created)

	req := deployRequest(owner, "twitter:alice")
	res, err := h.creator.Deploy(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Deployment)
	assert.False(t, res.Adopted)
	assert.Equal(t, models.StepConfirmed, res.Step.Status)
	assert.Equal(t, "ALC", res.Deployment.TokenSymbol, "symbol is trimmed and upper-cased")
	assert.Equal(t, res.Step.TxHash, res.Deployment.DeployTxHash)

	stored, err := h.reg.GetDeployment(ctx, "twitter:alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.Deployment.ContractAddress, stored.ContractAddress)

	intent, err := h.reg.GetDeployIntent(ctx, "twitter:alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeployIntentCompleted, intent.Status)

	claim, err := h.reg.GetClaim(ctx, "twitter:alice", "creators")
	require.NoError(t, err)
	require.NotNil(t, claim.TokenAddress)
	assert.Equal(t, stored.ContractAddress, *claim.TokenAddress)

	// Second deploy for the same identity is refused before any transaction.
	txs := len(h.chain.Txs())
	_, err = h.creator.Deploy(ctx, req)
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Len(t, h.chain.Txs(), txs)

	minted, err := h.creator.Mint(ctx, MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: owner, Amount: "250.5"})
	require.NoError(t, err)
	assert.Equal(t, stored.ContractAddress, minted.ContractAddress)
	assert.Equal(t, owner.Address().Hex(), minted.To)
	assert.Equal(t, "250.5", minted.Amount.String())

	bal, err := h.contracts.Token(common.HexToAddress(stored.ContractAddress)).BalanceOf(ctx, owner.Address())
	require.NoError(t, err)
	assert.Equal(t, "250.5", bal.String())
}

func TestMintLostBroadcastAckMintsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)

	res, err := h.creator.Deploy(ctx, deployRequest(owner, "twitter:alice"))
	require.NoError(t, err)

	h.chain.LoseSendAck("mint", 1)
	minted, err := h.creator.Mint(ctx, MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: owner, Amount: "10"})
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, minted.Step.Status)
	assert.Equal(t, 1, h.chain.TxCount("mint"))

	bal, err := h.contracts.Token(common.HexToAddress(res.Deployment.ContractAddress)).BalanceOf(ctx, owner.Address())
	require.NoError(t, err)
	assert.Equal(t, "10", bal.String())
}

func TestDeployLostBroadcastAckDeploysOnce(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	h.chain.LoseSendAck("deploy", 1)

	res, err := h.creator.Deploy(context.Background(), deployRequest(newWallet(t), "twitter:alice"))
	require.NoError(t, err)
	assert.False(t, res.Adopted)
	assert.Equal(t, models.StepConfirmed, res.Step.Status)
	assert.Equal(t, 1, h.chain.TxCount("deploy"))
}

func TestMintGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)

	req := deployRequest(owner, "twitter:alice")
	_, err := h.creator.Deploy(ctx, req)
	require.NoError(t, err)
	txs := len(h.chain.Txs())

	_, err = h.creator.Mint(ctx, MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: newWallet(t), Amount: "1"})
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err), "only the owner mints")

	_, err = h.creator.Mint(ctx, MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: owner, Amount: "0"})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	_, err = h.creator.Mint(ctx, MintRequest{IdentityKey: "twitter:alice", CampaignID: "creators", Wallet: owner, Amount: "1", To: "0xnot-an-address"})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	assert.Len(t, h.chain.Txs(), txs)
}

func TestDeployRevertWritesNoDeployment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)
	h.chain.RevertOnChain("deploy", "out of gas", 1)

	req := deployRequest(owner, "twitter:alice")
	res, err := h.creator.Deploy(ctx, req)
	assert.True(t, errors.Is(err, errs.ErrRevert))
	require.NotNil(t, res)
	assert.Equal(t, models.StepFailed, res.Step.Status)
	assert.Nil(t, res.Deployment)

	d, err := h.reg.GetDeployment(ctx, "twitter:alice")
	require.NoError(t, err)
	assert.Nil(t, d)

	intent, err := h.reg.GetDeployIntent(ctx, "twitter:alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeployIntentAbandoned, intent.Status)

	// A fresh attempt goes through.
	res, err = h.creator.Deploy(ctx, req)
	require.NoError(t, err)
	assert.NotNil(t, res.Deployment)
}

// The deploy lands but the caller goes away before the receipt is seen: the
// intent stays pending and the reconciler records the deployment.
func TestDeployCrashGapReconciled(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)
	h.chain.HoldReceipts()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for h.chain.TxCount("deploy") == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		cancel()
	}()

	req := deployRequest(owner, "twitter:alice")
	res, err := h.creator.Deploy(ctx, req)
	assert.Equal(t, errs.KindCanceled, errs.KindOf(err))
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Step.TxHash)

	d, err := h.reg.GetDeployment(context.Background(), "twitter:alice")
	require.NoError(t, err)
	assert.Nil(t, d, "no deployment without a confirmed receipt")

	pending, err := h.reg.ListPendingDeployIntents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.chain.ReleaseReceipts()
	outcome, err := h.creator.ReconcileIntent(context.Background(), pending[0], time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCompleted, outcome)

	d, err = h.reg.GetDeployment(context.Background(), "twitter:alice")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, res.Step.TxHash, d.DeployTxHash)
	assert.Equal(t, pending[0].ExpectedAddress, d.ContractAddress)
}

func TestDeployAdoptsExistingCode(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	owner := newWallet(t)
	h.chain.HoldReceipts()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for h.chain.TxCount("deploy") == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		cancel()
	}()
	req := deployRequest(owner, "twitter:alice")
	first, err := h.creator.Deploy(ctx, req)
	require.Error(t, err)
	h.chain.ReleaseReceipts()

	res, err := h.creator.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Adopted)
	assert.Equal(t, first.Step.TxHash, res.Deployment.DeployTxHash)
	assert.Equal(t, 1, h.chain.TxCount("deploy"), "adoption sends nothing")
}

func TestConcurrentDeploySameIdentity(t *testing.T) {
	h := newHarness(t)
	addMember(t, h, "twitter:alice")
	first, second := newWallet(t), newWallet(t)
	h.chain.HoldReceipts()

	type outcome struct {
		res *DeployResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.creator.Deploy(context.Background(), deployRequest(first, "twitter:alice"))
		done <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return h.chain.TxCount("deploy") == 1 }, time.Second, 2*time.Millisecond)

	_, err := h.creator.Deploy(context.Background(), deployRequest(second, "twitter:alice"))
	assert.Equal(t, errs.KindAlreadyInProgress, errs.KindOf(err))

	h.chain.ReleaseReceipts()
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, first.Address().Hex(), got.res.Deployment.OwnerAddress)
	assert.Equal(t, 1, h.chain.TxCount("deploy"), "the second caller never broadcasts")
}

func TestDeployRejectsRivalPendingIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addMember(t, h, "twitter:alice")

	// Another process holds a live intent for a different contract.
	require.NoError(t, h.reg.PutDeployIntent(ctx, &models.DeployIntent{
		OwnerIdentityKey: "twitter:alice",
		OwnerAddress:     newWallet(t).Address().Hex(),
		ChainID:          "31337",
		ExpectedAddress:  "0x5555555555555555555555555555555555555555",
		TokenName:        "Other",
		TokenSymbol:      "OTH",
		CampaignID:       "creators",
	}))

	_, err := h.creator.Deploy(ctx, deployRequest(newWallet(t), "twitter:alice"))
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Zero(t, h.chain.TxCount("deploy"))
}

func TestRecordRefusesAnotherContract(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := newWallet(t).Address().Hex()

	require.NoError(t, h.reg.PutDeployment(ctx, &models.CreatorTokenDeployment{
		OwnerIdentityKey: "twitter:alice",
		OwnerAddress:     owner,
		ChainID:          "31337",
		ContractAddress:  "0x7777777777777777777777777777777777777777",
		TokenName:        "Alice",
		TokenSymbol:      "ALC",
	}))

	intent := &models.DeployIntent{
		OwnerIdentityKey: "twitter:alice",
		OwnerAddress:     newWallet(t).Address().Hex(),
		ChainID:          "31337",
		ExpectedAddress:  "0x8888888888888888888888888888888888888888",
		TokenName:        "Alice",
		TokenSymbol:      "ALC",
	}
	_, err := h.creator.record(ctx, intent)
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))

	intent.ExpectedAddress = "0x7777777777777777777777777777777777777777"
	d, err := h.creator.record(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, owner, d.OwnerAddress, "the stored deployment is returned as is")
}

func TestReconcileAbandonsStaleIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	intent := models.DeployIntent{
		OwnerIdentityKey: "twitter:bob",
		OwnerAddress:     newWallet(t).Address().Hex(),
		ChainID:          "31337",
		ExpectedAddress:  "0x5555555555555555555555555555555555555555",
		TokenName:        "Bob",
		TokenSymbol:      "BOB",
		CampaignID:       "creators",
		CreatedAt:        time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, h.reg.PutDeployIntent(ctx, &intent))

	outcome, err := h.creator.ReconcileIntent(ctx, intent, 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReconcilePending, outcome)

	outcome, err = h.creator.ReconcileIntent(ctx, intent, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReconcileAbandoned, outcome)

	stored, err := h.reg.GetDeployIntent(ctx, "twitter:bob")
	require.NoError(t, err)
	assert.Equal(t, models.DeployIntentAbandoned, stored.Status)
}
