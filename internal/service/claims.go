package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/metrics"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
)

// ClaimRequest registers Identity for a campaign airdrop with Wallet.
type ClaimRequest struct {
	Identity   models.Identity
	CampaignID string
	Wallet     common.Address
}

// ClaimService registers claims exactly once per (identity, campaign) and
// maintains the campaign leaderboard.
type ClaimService struct {
	registry  registry.Registry
	verifier  *EligibilityVerifier
	campaigns *Campaigns
	logger    *zap.Logger
}

// NewClaimService creates a new claim service
func NewClaimService(reg registry.Registry, verifier *EligibilityVerifier, campaigns *Campaigns, logger *zap.Logger) *ClaimService {
	return &ClaimService{
		registry:  reg,
		verifier:  verifier,
		campaigns: campaigns,
		logger:    logger,
	}
}

// SubmitClaim verifies eligibility and stores the claim. A second submission
// for the same identity and campaign fails with DuplicateClaim no matter how
// the two race.
func (s *ClaimService) SubmitClaim(ctx context.Context, req ClaimRequest) (*models.ClaimRecord, error) {
	const op = "submit claim"

	if strings.TrimSpace(req.Identity.Key) == "" {
		return nil, errs.Reasonf(errs.KindInvalidInput, op, "identity key is required")
	}
	campaign, err := s.campaigns.Get(req.CampaignID)
	if err != nil {
		return nil, err
	}

	existing, err := s.registry.GetClaim(ctx, req.Identity.Key, campaign.ID)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to get claim: %w", err))
	}
	if existing != nil {
		metrics.Claims.WithLabelValues("duplicate").Inc()
		return nil, errs.Reasonf(errs.KindDuplicateClaim, op, "%s already claimed for %s", req.Identity.Key, campaign.ID)
	}

	decision, err := s.verifier.Evaluate(ctx, req.Identity.Key, campaign.ID, req.Wallet)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}
	if !decision.Eligible {
		metrics.Claims.WithLabelValues("not_eligible").Inc()
		return nil, errs.Reasonf(errs.KindNotEligible, op, "%s", strings.Join(decision.Reasons, "; "))
	}

	claim := &models.ClaimRecord{
		IdentityKey:               req.Identity.Key,
		DisplayName:               req.Identity.DisplayName,
		CampaignID:                campaign.ID,
		WalletAddress:             req.Wallet.Hex(),
		StakedBalanceAtSubmission: decision.Stake.Basis.UnitsString(),
		Decimals:                  decision.Stake.Basis.Decimals(),
	}

	// A deployment made before the claim is reflected immediately.
	if d, err := s.registry.GetDeployment(ctx, req.Identity.Key); err == nil && d != nil {
		claim.TokenAddress = &d.ContractAddress
		claim.TokenName = &d.TokenName
		claim.TokenSymbol = &d.TokenSymbol
	}

	created, err := s.registry.PutClaimIfAbsent(ctx, claim)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to store claim: %w", err))
	}
	if !created {
		metrics.Claims.WithLabelValues("duplicate").Inc()
		return nil, errs.Reasonf(errs.KindDuplicateClaim, op, "%s already claimed for %s", req.Identity.Key, campaign.ID)
	}

	metrics.Claims.WithLabelValues("created").Inc()
	s.logger.Info("Claim registered",
		zap.String("identity_key", claim.IdentityKey),
		zap.String("campaign_id", claim.CampaignID),
		zap.String("wallet", claim.WalletAddress),
		zap.String("staked_units", claim.StakedBalanceAtSubmission))
	return claim, nil
}

// GetClaim returns the identity's claim, or nil if it has none.
func (s *ClaimService) GetClaim(ctx context.Context, identityKey, campaignID string) (*models.ClaimRecord, error) {
	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	claim, err := s.registry.GetClaim(ctx, identityKey, campaign.ID)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "get claim", err)
	}
	return claim, nil
}

// ListClaims pages through a campaign's claims, oldest first.
func (s *ClaimService) ListClaims(ctx context.Context, campaignID string, limit, offset int) ([]models.ClaimRecord, error) {
	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	claims, err := s.registry.ListClaims(ctx, campaign.ID, limit, offset)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "list claims", err)
	}
	return claims, nil
}

// Leaderboard returns the top entries of a campaign leaderboard.
func (s *ClaimService) Leaderboard(ctx context.Context, campaignID string, limit int) ([]models.Membership, error) {
	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	members, err := s.registry.ListMembers(ctx, campaign.ID, limit)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "leaderboard", err)
	}
	return members, nil
}

// ImportMembers upserts leaderboard entries for a campaign and assigns ranks
// by points (ties share the better rank). It returns the number imported.
func (s *ClaimService) ImportMembers(ctx context.Context, campaignID string, entries []models.Membership) (int, error) {
	campaign, err := s.campaigns.Get(campaignID)
	if err != nil {
		return 0, err
	}

	ranked := make([]models.Membership, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Points > ranked[j].Points })

	for i := range ranked {
		if strings.TrimSpace(ranked[i].IdentityKey) == "" {
			return i, errs.Reasonf(errs.KindInvalidInput, "import members", "entry %d has no identity key", i+1)
		}
		ranked[i].CampaignID = campaign.ID
		switch {
		case i > 0 && ranked[i].Points == ranked[i-1].Points:
			ranked[i].Rank = ranked[i-1].Rank
		default:
			ranked[i].Rank = i + 1
		}
		if err := s.registry.UpsertMembership(ctx, &ranked[i]); err != nil {
			return i, errs.E(errs.KindInternal, "import members", fmt.Errorf("failed to upsert %s: %w", ranked[i].IdentityKey, err))
		}
	}

	s.logger.Info("Leaderboard imported",
		zap.String("campaign_id", campaign.ID),
		zap.Int("entries", len(ranked)))
	return len(ranked), nil
}
