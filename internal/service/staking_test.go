package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop/offchain/internal/blockchain/evm/stub"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/models"
)

func TestStakeScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))

	position, err := h.verifier.CheckStake(ctx, "launch", w.Address())
	require.NoError(t, err)
	assert.True(t, position.HasMinimumStake)
	assert.Equal(t, "15000", position.CurrentBalance.String())
	assert.Equal(t, "10000", position.MinimumRequired.String())

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, StakeStaked, run.State())
	require.Len(t, run.Steps, 2)
	for _, s := range run.Steps {
		assert.Equal(t, models.StepConfirmed, s.Status, s.Kind)
		assert.NotEmpty(t, s.TxHash)
	}

	position, err = h.verifier.CheckStake(ctx, "launch", w.Address())
	require.NoError(t, err)
	assert.Equal(t, "5000", position.StakedAmount.String())
	assert.Equal(t, "10000", position.CurrentBalance.String())
	assert.True(t, position.HasMinimumStake)

	attempt, err := h.reg.GetStakeAttempt(ctx, run.Key)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, models.StakeAttemptStaked, attempt.Status)
	assert.Equal(t, whole(5_000).String(), attempt.AmountUnits)
}

func TestStakePreflight(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		wantKind errs.Kind
	}{
		{"exceeds balance", "20000", errs.KindInsufficientBalance},
		{"zero", "0", errs.KindInvalidInput},
		{"too precise", "1.0000001", errs.KindInvalidInput},
		{"garbage", "lots", errs.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := newWallet(t)
			h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))

			run, err := h.staking.Stake(context.Background(), StakeRequest{Wallet: w, CampaignID: "launch", Amount: tt.amount, Nonce: "n"})
			assert.Nil(t, run)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assert.Empty(t, h.chain.Txs(), "no transaction may be sent")

			attempt, err := h.reg.GetStakeAttempt(context.Background(), StakeKey(w.Address(), "launch", "n"))
			require.NoError(t, err)
			assert.Nil(t, attempt)
		})
	}
}

func TestStakeApproveRevert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.RevertOnChain("approve", "Pausable: paused", 1)

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.Error(t, err)
	require.NotNil(t, run)

	assert.True(t, errors.Is(err, errs.ErrRevert))
	assert.Equal(t, "Pausable: paused", errs.ReasonOf(err))
	assert.Equal(t, StakeFailed, run.State())
	assert.Equal(t, models.StepApprove, run.FailedStep())
	assert.Equal(t, 0, h.chain.TxCount("stake"), "stake must not be sent after a failed approval")

	step, ok := run.Step(models.StepApprove)
	require.True(t, ok)
	assert.Equal(t, models.StepFailed, step.Status)
	assert.NotEmpty(t, step.TxHash)

	attempt, err := h.reg.GetStakeAttempt(ctx, run.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StakeAttemptFailed, attempt.Status)
	require.NotNil(t, attempt.FailedStep)
	assert.Equal(t, "approve", *attempt.FailedStep)
}

func TestStakeUserRejected(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.FailSend("approve", stub.UserRejected(), 1)

	run, err := h.staking.Stake(context.Background(), StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	assert.Equal(t, errs.KindUserRejected, errs.KindOf(err))
	assert.Equal(t, models.StepApprove, run.FailedStep())
	assert.Empty(t, h.chain.Txs())
}

func TestStakeRetriesConnectivity(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.FailSend("stake", stub.Connectivity(), 1)

	run, err := h.staking.Stake(context.Background(), StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, StakeStaked, run.State())
	assert.Equal(t, 1, h.chain.TxCount("stake"))
}

func TestStakeLostBroadcastAckIsNotResent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.LoseSendAck("approve", 1)
	h.chain.LoseSendAck("stake", 1)

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, StakeStaked, run.State())
	assert.Equal(t, 1, h.chain.TxCount("approve"))
	assert.Equal(t, 1, h.chain.TxCount("stake"))

	position, err := h.verifier.CheckStake(ctx, "launch", w.Address())
	require.NoError(t, err)
	assert.Equal(t, "5000", position.StakedAmount.String())
}

func TestStakeConnectivityExhausted(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.FailSend("approve", stub.Connectivity(), 0)

	run, err := h.staking.Stake(context.Background(), StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	assert.True(t, errors.Is(err, errs.ErrConnectivity))
	assert.Equal(t, StakeFailed, run.State())
	assert.Equal(t, models.StepApprove, run.FailedStep())
}

func TestRetryStake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.RevertOnChain("stake", "ReentrancyGuard: reentrant call", 1)

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.Error(t, err)
	assert.Equal(t, models.StepStake, run.FailedStep())
	approve, _ := run.Step(models.StepApprove)
	assert.Equal(t, models.StepConfirmed, approve.Status, "approval succeeded, staking failed")

	run, err = h.staking.RetryStake(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, StakeStaked, run.State())
	assert.Equal(t, 1, h.chain.TxCount("approve"))
	assert.Equal(t, 2, h.chain.TxCount("stake"))
	assert.Equal(t, whole(5_000), h.chain.Staked(poolAddr, w.Address()))
}

func TestRetryStakeRereadsAllowance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.RevertOnChain("stake", "paused", 1)

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	require.Error(t, err)

	// The allowance was spent elsewhere in the meantime.
	h.chain.SetAllowance(tokenAddr, w.Address(), poolAddr, whole(1_000))

	_, err = h.staking.RetryStake(ctx, run)
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Equal(t, 1, h.chain.TxCount("stake"))
	assert.Equal(t, StakeFailed, run.State())
}

func TestRetryStakeRejectsFailedApproval(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.RevertOnChain("approve", "paused", 1)

	run, _ := h.staking.Stake(context.Background(), StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	_, err := h.staking.RetryStake(context.Background(), run)
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Equal(t, 0, h.chain.TxCount("stake"))
}

func TestStakeAlreadyInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.HoldReceipts()

	var (
		wg       sync.WaitGroup
		firstRun *StakeRun
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstRun, firstErr = h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	}()
	require.Eventually(t, func() bool { return h.chain.TxCount("approve") == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "100", Nonce: "n-2"})
	assert.True(t, errors.Is(err, errs.ErrAlreadyInProgress))

	holder, busy := h.locks.Holder(w.Address())
	assert.True(t, busy)
	assert.Equal(t, "stake", holder)

	h.chain.ReleaseReceipts()
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, StakeStaked, firstRun.State())
	assert.Equal(t, 1, h.chain.TxCount("approve"), "the rejected request sent nothing")
}

func TestStakeDuplicateNonce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))

	req := StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "same"}
	_, err := h.staking.Stake(ctx, req)
	require.NoError(t, err)

	_, err = h.staking.Stake(ctx, req)
	assert.Equal(t, errs.KindAlreadyInProgress, errs.KindOf(err))
	assert.Equal(t, 1, h.chain.TxCount("stake"))
}

func TestStakeCanceledWhileWaiting(t *testing.T) {
	h := newHarness(t)
	w := newWallet(t)
	h.chain.SetBalance(tokenAddr, w.Address(), whole(15_000))
	h.chain.HoldReceipts()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for h.chain.TxCount("approve") == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		cancel()
	}()

	run, err := h.staking.Stake(ctx, StakeRequest{Wallet: w, CampaignID: "launch", Amount: "5000", Nonce: "n-1"})
	assert.Equal(t, errs.KindCanceled, errs.KindOf(err))
	assert.Equal(t, models.StepApprove, run.FailedStep())

	step, _ := run.Step(models.StepApprove)
	assert.NotEmpty(t, step.TxHash, "the broadcast transaction is still reported")

	_, held := h.locks.Holder(w.Address())
	assert.False(t, held, "lock released on cancellation")
}

func TestStakeKey(t *testing.T) {
	w := newWallet(t)
	a := StakeKey(w.Address(), "launch", "n-1")
	assert.Equal(t, a, StakeKey(w.Address(), "launch", "n-1"))
	assert.NotEqual(t, a, StakeKey(w.Address(), "launch", "n-2"))
	assert.NotEqual(t, a, StakeKey(w.Address(), "creators", "n-1"))
	assert.Len(t, a, 66)
}

func TestStakeRequiresPool(t *testing.T) {
	h := newHarness(t)
	_, err := h.staking.Stake(context.Background(), StakeRequest{Wallet: newWallet(t), CampaignID: "unknown", Amount: "1", Nonce: "n"})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	_, err = h.staking.Stake(context.Background(), StakeRequest{Wallet: newWallet(t), CampaignID: "launch", Amount: "1"})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err), "nonce is required")
}
