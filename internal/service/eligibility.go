package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/units"
)

// StakePosition is derived on every check and never stored.
type StakePosition struct {
	Wallet          common.Address    `json:"wallet"`
	CurrentBalance  units.TokenAmount `json:"current_balance"`
	StakedAmount    units.TokenAmount `json:"staked_amount"`
	MinimumRequired units.TokenAmount `json:"minimum_required"`
	// Basis is the amount compared against the minimum, per the campaign's
	// stake basis.
	Basis           units.TokenAmount `json:"basis"`
	HasMinimumStake bool              `json:"has_minimum_stake"`
}

// MembershipCheck is the leaderboard view of an identity.
type MembershipCheck struct {
	IdentityKey string `json:"identity_key"`
	CampaignID  string `json:"campaign_id"`
	IsMember    bool   `json:"is_member"`
	Points      int64  `json:"points"`
	Rank        int    `json:"rank"`
}

// Decision combines stake and membership into an eligibility verdict.
type Decision struct {
	CampaignID  string           `json:"campaign_id"`
	IdentityKey string           `json:"identity_key"`
	Stake       *StakePosition   `json:"stake"`
	Membership  *MembershipCheck `json:"membership"`
	Eligible    bool             `json:"eligible"`
	Reasons     []string         `json:"reasons,omitempty"`
}

// EligibilityVerifier answers read-only eligibility questions. It is safe
// for concurrent use.
type EligibilityVerifier struct {
	contracts *evm.Contracts
	campaigns *Campaigns
	members   registry.MembershipStore
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewEligibilityVerifier creates the verifier.
func NewEligibilityVerifier(
	contracts *evm.Contracts,
	campaigns *Campaigns,
	members registry.MembershipStore,
	retry RetryPolicy,
	logger *zap.Logger,
) *EligibilityVerifier {
	return &EligibilityVerifier{
		contracts: contracts,
		campaigns: campaigns,
		members:   members,
		retry:     retry,
		logger:    logger,
	}
}

// CheckStake reads the wallet's token balance and staked amount and compares
// the campaign's basis against its minimum in smallest units.
func (v *EligibilityVerifier) CheckStake(ctx context.Context, campaignID string, wallet common.Address) (*StakePosition, error) {
	campaign, err := v.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	token := v.contracts.Token(campaign.Token)

	decimals, err := retry(ctx, v.retry, v.logger, "decimals", func() (uint8, error) {
		return token.Decimals(ctx)
	})
	if err != nil {
		return nil, err
	}
	minimum, err := units.FromUnitsString(campaign.MinimumStakeUnits, decimals)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "check stake", fmt.Errorf("invalid minimum for campaign %s: %w", campaign.ID, err))
	}

	balance, err := retry(ctx, v.retry, v.logger, "balanceOf", func() (units.TokenAmount, error) {
		return token.BalanceOf(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}

	staked := units.Zero(decimals)
	if campaign.HasStakingPool() {
		pool := v.contracts.Staking(campaign.StakingPool, token)
		staked, err = retry(ctx, v.retry, v.logger, "stakedBalanceOf", func() (units.TokenAmount, error) {
			return pool.StakedBalance(ctx, wallet)
		})
		if err != nil {
			return nil, err
		}
	}

	var basis units.TokenAmount
	switch campaign.StakeBasis {
	case config.StakeBasisStaked:
		basis = staked
	case config.StakeBasisCombined:
		basis, err = balance.Add(staked)
		if err != nil {
			return nil, errs.E(errs.KindInternal, "check stake", err)
		}
	default:
		basis = balance
	}

	return &StakePosition{
		Wallet:          wallet,
		CurrentBalance:  balance,
		StakedAmount:    staked,
		MinimumRequired: minimum,
		Basis:           basis,
		HasMinimumStake: basis.Cmp(minimum) >= 0,
	}, nil
}

// CheckMembership looks the identity up on the campaign leaderboard.
func (v *EligibilityVerifier) CheckMembership(ctx context.Context, identityKey, campaignID string) (*MembershipCheck, error) {
	campaign, err := v.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	if identityKey == "" {
		return nil, errs.Reasonf(errs.KindInvalidInput, "check membership", "identity key is required")
	}

	m, err := v.members.GetMembership(ctx, identityKey, campaign.ID)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "check membership", fmt.Errorf("failed to get membership: %w", err))
	}
	check := &MembershipCheck{IdentityKey: identityKey, CampaignID: campaign.ID}
	if m != nil {
		check.IsMember = true
		check.Points = m.Points
		check.Rank = m.Rank
	}
	return check, nil
}

// RequireMembership fails with NotEligible unless the identity is on the
// campaign leaderboard.
func (v *EligibilityVerifier) RequireMembership(ctx context.Context, identityKey, campaignID string) error {
	check, err := v.CheckMembership(ctx, identityKey, campaignID)
	if err != nil {
		return err
	}
	if !check.IsMember {
		return errs.Reasonf(errs.KindNotEligible, "membership", "%s is not on the %s leaderboard", identityKey, check.CampaignID)
	}
	return nil
}

// Evaluate runs both checks concurrently and applies the campaign's rules.
func (v *EligibilityVerifier) Evaluate(ctx context.Context, identityKey, campaignID string, wallet common.Address) (*Decision, error) {
	campaign, err := v.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}

	var (
		position   *StakePosition
		membership *MembershipCheck
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		position, err = v.CheckStake(gctx, campaign.ID, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		membership, err = v.CheckMembership(gctx, identityKey, campaign.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Decision{
		CampaignID:  campaign.ID,
		IdentityKey: identityKey,
		Stake:       position,
		Membership:  membership,
		Eligible:    true,
	}
	if campaign.RequireMinimumStake && !position.HasMinimumStake {
		d.Eligible = false
		d.Reasons = append(d.Reasons, fmt.Sprintf("stake basis %s is below the minimum %s", position.Basis, position.MinimumRequired))
	}
	if campaign.RequireMembership && !membership.IsMember {
		d.Eligible = false
		d.Reasons = append(d.Reasons, "identity is not on the campaign leaderboard")
	}

	v.logger.Debug("Eligibility evaluated",
		zap.String("campaign_id", campaign.ID),
		zap.String("identity_key", identityKey),
		zap.String("wallet", wallet.Hex()),
		zap.Bool("eligible", d.Eligible))
	return d, nil
}
