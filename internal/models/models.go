package models

import "time"

// StepKind names one leg of a multi-transaction workflow
type StepKind string

const (
	StepApprove StepKind = "approve"
	StepStake   StepKind = "stake"
	StepDeploy  StepKind = "deploy"
	StepMint    StepKind = "mint"
)

// StepStatus is the state of a single transaction leg
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepConfirmed StepStatus = "confirmed"
	StepFailed    StepStatus = "failed"
)

// TransactionStep is one leg of an on-chain workflow. It lives for the
// duration of a request and is never persisted on its own.
type TransactionStep struct {
	Kind        StepKind   `json:"kind"`
	Status      StepStatus `json:"status"`
	TxHash      string     `json:"tx_hash,omitempty"`
	BlockNumber uint64     `json:"block_number,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Identity is what the sign-in provider hands us: a stable key and a display name
type Identity struct {
	Key         string `json:"identity_key"`
	DisplayName string `json:"display_name"`
}

// ClaimRecord is an identity's registration for a campaign airdrop
type ClaimRecord struct {
	IdentityKey               string    `db:"identity_key" json:"identity_key"`
	DisplayName               string    `db:"display_name" json:"display_name"`
	CampaignID                string    `db:"campaign_id" json:"campaign_id"`
	WalletAddress             string    `db:"wallet_address" json:"wallet_address"`
	StakedBalanceAtSubmission string    `db:"staked_balance_units" json:"staked_balance_units"` // smallest units, base 10
	Decimals                  uint8     `db:"decimals" json:"decimals"`
	TokenAddress              *string   `db:"token_address" json:"token_address,omitempty"`
	TokenName                 *string   `db:"token_name" json:"token_name,omitempty"`
	TokenSymbol               *string   `db:"token_symbol" json:"token_symbol,omitempty"`
	CreatedAt                 time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time `db:"updated_at" json:"updated_at"`
}

// TokenInfo enriches a claim once its owner has deployed a creator token
type TokenInfo struct {
	Address string
	Name    string
	Symbol  string
}

// CreatorTokenDeployment is the durable handle to an identity's creator token
type CreatorTokenDeployment struct {
	OwnerIdentityKey string    `db:"owner_identity_key" json:"owner_identity_key"`
	OwnerAddress     string    `db:"owner_address" json:"owner_address"`
	ChainID          string    `db:"chain_id" json:"chain_id"`
	ContractAddress  string    `db:"contract_address" json:"contract_address"`
	TokenName        string    `db:"token_name" json:"token_name"`
	TokenSymbol      string    `db:"token_symbol" json:"token_symbol"`
	DeployTxHash     string    `db:"deploy_tx_hash" json:"deploy_tx_hash"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Membership is a leaderboard entry for an identity within a campaign
type Membership struct {
	IdentityKey string    `db:"identity_key" json:"identity_key"`
	CampaignID  string    `db:"campaign_id" json:"campaign_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Points      int64     `db:"points" json:"points"`
	Rank        int       `db:"rank" json:"rank"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StakeAttemptStatus tracks a stake run in the idempotency journal
type StakeAttemptStatus string

const (
	StakeAttemptInProgress StakeAttemptStatus = "IN_PROGRESS"
	StakeAttemptStaked     StakeAttemptStatus = "STAKED"
	StakeAttemptFailed     StakeAttemptStatus = "FAILED"
)

// StakeAttempt is keyed by keccak256(wallet|campaign|nonce) so the same
// request replayed from another tab or process is rejected by the store.
type StakeAttempt struct {
	IdempotencyKey string             `db:"idempotency_key" json:"idempotency_key"`
	WalletAddress  string             `db:"wallet_address" json:"wallet_address"`
	CampaignID     string             `db:"campaign_id" json:"campaign_id"`
	AmountUnits    string             `db:"amount_units" json:"amount_units"`
	Status         StakeAttemptStatus `db:"status" json:"status"`
	ApproveTxHash  *string            `db:"approve_tx_hash" json:"approve_tx_hash,omitempty"`
	StakeTxHash    *string            `db:"stake_tx_hash" json:"stake_tx_hash,omitempty"`
	FailedStep     *string            `db:"failed_step" json:"failed_step,omitempty"`
	ErrorMessage   *string            `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// StakeAttemptResult is the terminal update applied to a StakeAttempt
type StakeAttemptResult struct {
	Status        StakeAttemptStatus
	ApproveTxHash string
	StakeTxHash   string
	FailedStep    string
	ErrorMessage  string
}

// DeployIntentStatus is the lifecycle of a pre-broadcast deploy record
type DeployIntentStatus string

const (
	DeployIntentPending   DeployIntentStatus = "PENDING"
	DeployIntentCompleted DeployIntentStatus = "COMPLETED"
	DeployIntentAbandoned DeployIntentStatus = "ABANDONED"
)

// DeployIntent is written before a creator-token deploy is broadcast. It lets
// the reconciler finish a deployment whose confirmation was observed on chain
// but never persisted.
type DeployIntent struct {
	OwnerIdentityKey string             `db:"owner_identity_key" json:"owner_identity_key"`
	OwnerAddress     string             `db:"owner_address" json:"owner_address"`
	ChainID          string             `db:"chain_id" json:"chain_id"`
	ExpectedAddress  string             `db:"expected_address" json:"expected_address"`
	TokenName        string             `db:"token_name" json:"token_name"`
	TokenSymbol      string             `db:"token_symbol" json:"token_symbol"`
	CampaignID       string             `db:"campaign_id" json:"campaign_id"`
	DeployTxHash     *string            `db:"deploy_tx_hash" json:"deploy_tx_hash,omitempty"`
	Status           DeployIntentStatus `db:"status" json:"status"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}
