package api

import (
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/service"
)

// ==================== Staking ====================

// StakeRequest represents a request to stake campaign tokens
type StakeRequest struct {
	IdentityKey   string `json:"identity_key"`
	WalletAddress string `json:"wallet_address"`
	Amount        string `json:"amount"`                  // human-readable, token decimals
	RequestNonce  string `json:"request_nonce,omitempty"` // generated when empty
}

// StakeResponse reports the legs of a stake run
type StakeResponse struct {
	IdempotencyKey string                   `json:"idempotency_key"`
	RequestNonce   string                   `json:"request_nonce"`
	CampaignID     string                   `json:"campaign_id"`
	WalletAddress  string                   `json:"wallet_address"`
	Amount         string                   `json:"amount"`
	State          service.StakeState       `json:"state"`
	FailedStep     models.StepKind          `json:"failed_step,omitempty"`
	Steps          []models.TransactionStep `json:"steps"`
	Error          *ErrorResponse           `json:"error,omitempty"`
}

// ==================== Claims ====================

// SubmitClaimRequest represents a claim submission
type SubmitClaimRequest struct {
	IdentityKey   string `json:"identity_key"`
	DisplayName   string `json:"display_name"`
	WalletAddress string `json:"wallet_address"`
}

// LeaderboardResponse lists ranked campaign members
type LeaderboardResponse struct {
	CampaignID string              `json:"campaign_id"`
	Entries    []models.Membership `json:"entries"`
}

// ==================== Creator Tokens ====================

// DeployTokenRequest represents a creator-token deployment request
type DeployTokenRequest struct {
	IdentityKey   string `json:"identity_key"`
	DisplayName   string `json:"display_name"`
	CampaignID    string `json:"campaign_id"`
	WalletAddress string `json:"wallet_address"`
	TokenName     string `json:"token_name"`
	TokenSymbol   string `json:"token_symbol"`
}

// MintRequest represents a creator-token mint request
type MintRequest struct {
	CampaignID    string `json:"campaign_id"`
	WalletAddress string `json:"wallet_address"`
	Amount        string `json:"amount"`
	ToAddress     string `json:"to_address,omitempty"` // defaults to wallet_address
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response. Kind carries the error
// taxonomy so clients can branch without parsing messages.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Step    string `json:"step,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
