package service

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/units"
)

func amount(n uint64) units.TokenAmount {
	return units.New(uint256.NewInt(n), 6)
}

func TestStakeMachineHappyPath(t *testing.T) {
	m := NewStakeMachine(amount(5))
	require.NoError(t, m.BeginApproval(amount(15)))
	require.NoError(t, m.ConfirmApproval(amount(5)))
	require.NoError(t, m.BeginStake())
	require.NoError(t, m.ConfirmStake())
	assert.Equal(t, StakeStaked, m.State())

	assert.Error(t, m.Fail(models.StepStake), "staked is terminal")
}

func TestStakeMachineIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(m *StakeMachine) error
	}{
		{"stake before approval", func(m *StakeMachine) error { return m.BeginStake() }},
		{"confirm approval from idle", func(m *StakeMachine) error { return m.ConfirmApproval(amount(5)) }},
		{"confirm stake from idle", func(m *StakeMachine) error { return m.ConfirmStake() }},
		{"resume from idle", func(m *StakeMachine) error { return m.ResumeStake(amount(5)) }},
		{"approve twice", func(m *StakeMachine) error {
			if err := m.BeginApproval(amount(10)); err != nil {
				return nil
			}
			return m.BeginApproval(amount(10))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStakeMachine(amount(5))
			err := tt.run(m)
			assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
		})
	}
}

func TestStakeMachineRequiresCoveringAllowance(t *testing.T) {
	m := NewStakeMachine(amount(5))
	require.NoError(t, m.BeginApproval(amount(15)))
	require.NoError(t, m.ConfirmApproval(amount(4)))

	err := m.BeginStake()
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Equal(t, StakeApproved, m.State())
}

func TestStakeMachineResume(t *testing.T) {
	m := NewStakeMachine(amount(5))
	require.NoError(t, m.BeginApproval(amount(15)))
	require.NoError(t, m.ConfirmApproval(amount(5)))
	require.NoError(t, m.BeginStake())
	require.NoError(t, m.Fail(models.StepStake))
	assert.Equal(t, models.StepStake, m.FailedStep())

	assert.Error(t, m.ResumeStake(amount(4)))
	require.NoError(t, m.ResumeStake(amount(5)))
	assert.Equal(t, StakeApproved, m.State())
	assert.Empty(t, m.FailedStep())
}

// No transaction can be planned unless 0 < amount <= balance, and Staking is
// reachable only with an allowance that covers the amount.
func TestStakeMachineInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amt := rapid.Uint64().Draw(t, "amount")
		bal := rapid.Uint64().Draw(t, "balance")
		allowance := rapid.Uint64().Draw(t, "allowance")

		m := NewStakeMachine(amount(amt))
		err := m.BeginApproval(amount(bal))
		if amt == 0 || amt > bal {
			if err == nil {
				t.Fatalf("approval began with amount %d and balance %d", amt, bal)
			}
			if m.State() != StakeIdle {
				t.Fatalf("state moved to %s on a rejected pre-flight", m.State())
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected pre-flight error: %v", err)
		}

		if err := m.ConfirmApproval(amount(allowance)); err != nil {
			t.Fatalf("confirm approval: %v", err)
		}
		err = m.BeginStake()
		if (err == nil) != (allowance >= amt) {
			t.Fatalf("BeginStake with allowance %d, amount %d: err=%v", allowance, amt, err)
		}
	})
}
