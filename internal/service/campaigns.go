package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/errs"
)

// Campaign is a validated campaign configuration with parsed addresses.
type Campaign struct {
	ID                  string
	ChainID             string
	Token               common.Address
	StakingPool         common.Address // zero when the campaign has no pool
	MinimumStakeUnits   string
	StakeBasis          string
	RequireMembership   bool
	RequireMinimumStake bool
}

// HasStakingPool reports whether a staking contract is configured.
func (c Campaign) HasStakingPool() bool {
	return c.StakingPool != (common.Address{})
}

// Campaigns is the read-only campaign catalogue.
type Campaigns struct {
	byID map[string]Campaign
}

// NewCampaigns parses the configured campaigns.
func NewCampaigns(cfgs map[string]config.CampaignConfig) (*Campaigns, error) {
	c := &Campaigns{byID: make(map[string]Campaign, len(cfgs))}
	for id, cfg := range cfgs {
		campaign, err := parseCampaign(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("campaign %s: %w", id, err)
		}
		c.byID[campaign.ID] = campaign
	}
	return c, nil
}

func parseCampaign(id string, cfg config.CampaignConfig) (Campaign, error) {
	token, err := evm.ParseAddress(cfg.TokenContractAddress)
	if err != nil {
		return Campaign{}, fmt.Errorf("token contract: %w", err)
	}
	campaign := Campaign{
		ID:                  strings.ToLower(id),
		ChainID:             cfg.ChainID,
		Token:               token,
		MinimumStakeUnits:   cfg.MinimumStakeUnits,
		StakeBasis:          cfg.StakeBasis,
		RequireMembership:   cfg.RequireMembership,
		RequireMinimumStake: cfg.RequireMinimumStake,
	}
	if campaign.MinimumStakeUnits == "" {
		campaign.MinimumStakeUnits = "0"
	}
	if campaign.StakeBasis == "" {
		campaign.StakeBasis = config.StakeBasisBalance
	}
	if cfg.StakingContractAddress != "" {
		pool, err := evm.ParseAddress(cfg.StakingContractAddress)
		if err != nil {
			return Campaign{}, fmt.Errorf("staking contract: %w", err)
		}
		campaign.StakingPool = pool
	}
	return campaign, nil
}

// Get returns the campaign or an InvalidInput error for unknown ids.
func (c *Campaigns) Get(id string) (Campaign, error) {
	campaign, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Campaign{}, errs.Reasonf(errs.KindInvalidInput, "campaign", "unknown campaign %q", id)
	}
	return campaign, nil
}

// IDs lists the configured campaign ids in order.
func (c *Campaigns) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
