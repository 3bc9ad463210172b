package service

import (
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/metrics"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/units"
)

// StakeState is a state of the approve → stake state machine.
type StakeState string

const (
	StakeIdle      StakeState = "idle"
	StakeApproving StakeState = "approving"
	StakeApproved  StakeState = "approved"
	StakeStaking   StakeState = "staking"
	StakeStaked    StakeState = "staked"
	StakeFailed    StakeState = "failed"
)

var stakeTransitions = map[StakeState][]StakeState{
	StakeIdle:      {StakeApproving, StakeFailed},
	StakeApproving: {StakeApproved, StakeFailed},
	StakeApproved:  {StakeStaking, StakeFailed},
	StakeStaking:   {StakeStaked, StakeFailed},
	// A failed stake leg may resume from Approved once the allowance is re-read.
	StakeFailed: {StakeApproved},
}

// StakeMachine enforces the ordering of a single stake run. It holds no
// chain handles; the workflow feeds it balances and allowances it read.
type StakeMachine struct {
	state      StakeState
	failedStep models.StepKind
	amount     units.TokenAmount
	approved   units.TokenAmount
}

// NewStakeMachine starts a run for amount in Idle.
func NewStakeMachine(amount units.TokenAmount) *StakeMachine {
	return &StakeMachine{
		state:    StakeIdle,
		amount:   amount,
		approved: units.Zero(amount.Decimals()),
	}
}

// State returns the current state.
func (m *StakeMachine) State() StakeState {
	return m.state
}

// FailedStep is the leg that failed, or "" unless the state is Failed.
func (m *StakeMachine) FailedStep() models.StepKind {
	return m.failedStep
}

// Amount is the amount being staked.
func (m *StakeMachine) Amount() units.TokenAmount {
	return m.amount
}

// BeginApproval moves Idle → Approving. The amount must be positive and
// covered by balance; no transaction may be sent otherwise.
func (m *StakeMachine) BeginApproval(balance units.TokenAmount) error {
	if m.amount.IsZero() {
		return errs.Reasonf(errs.KindInvalidInput, "stake", "amount must be greater than zero")
	}
	if m.amount.Cmp(balance) > 0 {
		return errs.Reasonf(errs.KindInsufficientBalance, "stake",
			"amount %s exceeds wallet balance %s", m.amount, balance)
	}
	return m.transition(StakeApproving)
}

// ConfirmApproval moves Approving → Approved with the allowance observed on
// chain after the approve receipt.
func (m *StakeMachine) ConfirmApproval(allowance units.TokenAmount) error {
	if m.state != StakeApproving {
		return m.illegal(StakeApproved)
	}
	m.approved = allowance
	return m.transition(StakeApproved)
}

// BeginStake moves Approved → Staking. It refuses unless the confirmed
// allowance covers the amount.
func (m *StakeMachine) BeginStake() error {
	if m.state != StakeApproved {
		return m.illegal(StakeStaking)
	}
	if m.approved.Cmp(m.amount) < 0 {
		return errs.Reasonf(errs.KindPrecondition, "stake",
			"approved allowance %s is below stake amount %s", m.approved, m.amount)
	}
	return m.transition(StakeStaking)
}

// ConfirmStake moves Staking → Staked.
func (m *StakeMachine) ConfirmStake() error {
	if m.state != StakeStaking {
		return m.illegal(StakeStaked)
	}
	return m.transition(StakeStaked)
}

// Fail records step as the failed leg. Terminal states cannot fail.
func (m *StakeMachine) Fail(step models.StepKind) error {
	if err := m.transition(StakeFailed); err != nil {
		return err
	}
	m.failedStep = step
	return nil
}

// ResumeStake moves Failed(stake) back to Approved using a freshly read
// allowance. A failed approval cannot be resumed; start a new run instead.
func (m *StakeMachine) ResumeStake(allowance units.TokenAmount) error {
	if m.state != StakeFailed || m.failedStep != models.StepStake {
		return errs.Reasonf(errs.KindPrecondition, "retry stake",
			"only a failed stake step can be retried (state %s, failed step %q)", m.state, m.failedStep)
	}
	if allowance.Cmp(m.amount) < 0 {
		return errs.Reasonf(errs.KindPrecondition, "retry stake",
			"on-chain allowance %s no longer covers %s; approve again", allowance, m.amount)
	}
	m.approved = allowance
	if err := m.transition(StakeApproved); err != nil {
		return err
	}
	m.failedStep = ""
	return nil
}

func (m *StakeMachine) transition(to StakeState) error {
	for _, allowed := range stakeTransitions[m.state] {
		if allowed == to {
			m.state = to
			metrics.WorkflowTransitions.WithLabelValues("stake", string(to)).Inc()
			return nil
		}
	}
	return m.illegal(to)
}

func (m *StakeMachine) illegal(to StakeState) error {
	return errs.Reasonf(errs.KindPrecondition, "stake", "illegal transition %s → %s", m.state, to)
}
