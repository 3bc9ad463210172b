package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/service"
)

const (
	defaultLeaderboardLimit = 50
	maxListLimit            = 500

	// statusClientClosedRequest is reported when the caller went away
	// mid-workflow. Not in net/http; the nginx convention.
	statusClientClosedRequest = 499
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	claims   *service.ClaimService
	verifier *service.EligibilityVerifier
	staking  *service.StakingWorkflow
	creator  *service.CreatorTokenWorkflow
	wallets  *evm.WalletSet
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	claims *service.ClaimService,
	verifier *service.EligibilityVerifier,
	staking *service.StakingWorkflow,
	creator *service.CreatorTokenWorkflow,
	wallets *evm.WalletSet,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		claims:   claims,
		verifier: verifier,
		staking:  staking,
		creator:  creator,
		wallets:  wallets,
		logger:   logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Eligibility ====================

// HandleEligibility handles GET /api/v1/campaigns/{campaignId}/eligibility
func (h *Handler) HandleEligibility(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaignId"]
	identityKey := strings.TrimSpace(r.URL.Query().Get("identity_key"))
	if identityKey == "" {
		respondError(w, http.StatusBadRequest, "identity_key is required", nil)
		return
	}
	wallet, err := evm.ParseAddress(r.URL.Query().Get("wallet"))
	if err != nil {
		respondFailure(w, "Invalid wallet address", err)
		return
	}

	decision, err := h.verifier.Evaluate(r.Context(), identityKey, campaignID, wallet)
	if err != nil {
		h.logger.Error("Failed to evaluate eligibility",
			zap.String("campaign_id", campaignID),
			zap.String("identity_key", identityKey),
			zap.Error(err))
		respondFailure(w, "Failed to evaluate eligibility", err)
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// HandleStakePosition handles GET /api/v1/campaigns/{campaignId}/stake/{wallet}
func (h *Handler) HandleStakePosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	wallet, err := evm.ParseAddress(vars["wallet"])
	if err != nil {
		respondFailure(w, "Invalid wallet address", err)
		return
	}

	pos, err := h.verifier.CheckStake(r.Context(), vars["campaignId"], wallet)
	if err != nil {
		h.logger.Error("Failed to read stake position",
			zap.String("campaign_id", vars["campaignId"]),
			zap.String("wallet", wallet.Hex()),
			zap.Error(err))
		respondFailure(w, "Failed to read stake position", err)
		return
	}

	respondJSON(w, http.StatusOK, pos)
}

// ==================== Staking ====================

// HandleStake handles POST /api/v1/campaigns/{campaignId}/stake
// Runs approve then stake from a connected wallet
func (h *Handler) HandleStake(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaignId"]

	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == "" {
		respondError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	wallet, ok := h.resolveWallet(w, req.WalletAddress)
	if !ok {
		return
	}
	if req.RequestNonce == "" {
		req.RequestNonce = uuid.NewString()
	}

	h.logger.Info("Stake requested",
		zap.String("campaign_id", campaignID),
		zap.String("identity_key", req.IdentityKey),
		zap.String("wallet", wallet.Address().Hex()),
		zap.String("amount", req.Amount),
		zap.String("request_nonce", req.RequestNonce))

	run, err := h.staking.Stake(r.Context(), service.StakeRequest{
		Wallet:     wallet,
		CampaignID: campaignID,
		Amount:     req.Amount,
		Nonce:      req.RequestNonce,
	})
	if run == nil {
		respondFailure(w, "Stake rejected", err)
		return
	}

	response := StakeResponse{
		IdempotencyKey: run.Key,
		RequestNonce:   req.RequestNonce,
		CampaignID:     run.CampaignID,
		WalletAddress:  run.Wallet.Hex(),
		Amount:         run.Amount.String(),
		State:          run.State(),
		FailedStep:     run.FailedStep(),
		Steps:          run.Steps,
	}
	if err != nil {
		status, body := errorBody("Stake failed", err)
		response.Error = &body
		respondJSON(w, status, response)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// ==================== Claims ====================

// HandleSubmitClaim handles POST /api/v1/campaigns/{campaignId}/claims
func (h *Handler) HandleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaignId"]

	var req SubmitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.IdentityKey) == "" {
		respondError(w, http.StatusBadRequest, "identity_key is required", nil)
		return
	}
	wallet, err := evm.ParseAddress(req.WalletAddress)
	if err != nil {
		respondFailure(w, "Invalid wallet address", err)
		return
	}

	claim, err := h.claims.SubmitClaim(r.Context(), service.ClaimRequest{
		Identity:   models.Identity{Key: strings.TrimSpace(req.IdentityKey), DisplayName: req.DisplayName},
		CampaignID: campaignID,
		Wallet:     wallet,
	})
	if err != nil {
		respondFailure(w, "Claim rejected", err)
		return
	}

	respondJSON(w, http.StatusCreated, claim)
}

// HandleGetClaim handles GET /api/v1/campaigns/{campaignId}/claims/{identityKey}
func (h *Handler) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	claim, err := h.claims.GetClaim(r.Context(), vars["identityKey"], vars["campaignId"])
	if err != nil {
		h.logger.Error("Failed to get claim",
			zap.String("campaign_id", vars["campaignId"]),
			zap.String("identity_key", vars["identityKey"]),
			zap.Error(err))
		respondFailure(w, "Failed to get claim", err)
		return
	}
	if claim == nil {
		respondError(w, http.StatusNotFound, "Claim not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, claim)
}

// HandleListClaims handles GET /api/v1/campaigns/{campaignId}/claims
func (h *Handler) HandleListClaims(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaignId"]

	limit, ok := queryInt(w, r, "limit", defaultLeaderboardLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	claims, err := h.claims.ListClaims(r.Context(), campaignID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list claims", zap.String("campaign_id", campaignID), zap.Error(err))
		respondFailure(w, "Failed to list claims", err)
		return
	}
	if claims == nil {
		claims = []models.ClaimRecord{}
	}

	respondJSON(w, http.StatusOK, claims)
}

// HandleLeaderboard handles GET /api/v1/campaigns/{campaignId}/leaderboard
func (h *Handler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["campaignId"]

	limit, ok := queryInt(w, r, "limit", defaultLeaderboardLimit)
	if !ok {
		return
	}

	entries, err := h.claims.Leaderboard(r.Context(), campaignID, limit)
	if err != nil {
		h.logger.Error("Failed to get leaderboard", zap.String("campaign_id", campaignID), zap.Error(err))
		respondFailure(w, "Failed to get leaderboard", err)
		return
	}
	if entries == nil {
		entries = []models.Membership{}
	}

	respondJSON(w, http.StatusOK, LeaderboardResponse{
		CampaignID: strings.ToLower(campaignID),
		Entries:    entries,
	})
}

// ==================== Creator Tokens ====================

// HandleDeployToken handles POST /api/v1/creator-tokens
func (h *Handler) HandleDeployToken(w http.ResponseWriter, r *http.Request) {
	var req DeployTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.IdentityKey) == "" {
		respondError(w, http.StatusBadRequest, "identity_key is required", nil)
		return
	}

	wallet, ok := h.resolveWallet(w, req.WalletAddress)
	if !ok {
		return
	}

	res, err := h.creator.Deploy(r.Context(), service.DeployRequest{
		Identity:    models.Identity{Key: strings.TrimSpace(req.IdentityKey), DisplayName: req.DisplayName},
		CampaignID:  req.CampaignID,
		Wallet:      wallet,
		TokenName:   req.TokenName,
		TokenSymbol: req.TokenSymbol,
	})
	if err != nil {
		h.logger.Error("Creator token deployment failed",
			zap.String("identity_key", req.IdentityKey),
			zap.Error(err))
		respondFailure(w, "Deployment failed", err)
		return
	}

	status := http.StatusCreated
	if res.Adopted {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// HandleMint handles POST /api/v1/creator-tokens/{identityKey}/mint
func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	identityKey := mux.Vars(r)["identityKey"]

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wallet, ok := h.resolveWallet(w, req.WalletAddress)
	if !ok {
		return
	}

	res, err := h.creator.Mint(r.Context(), service.MintRequest{
		IdentityKey: identityKey,
		CampaignID:  req.CampaignID,
		Wallet:      wallet,
		Amount:      req.Amount,
		To:          req.ToAddress,
	})
	if err != nil {
		h.logger.Error("Creator token mint failed",
			zap.String("identity_key", identityKey),
			zap.Error(err))
		respondFailure(w, "Mint failed", err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// HandleGetDeployment handles GET /api/v1/creator-tokens/{identityKey}
func (h *Handler) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	identityKey := mux.Vars(r)["identityKey"]

	deployment, err := h.creator.GetDeployment(r.Context(), identityKey)
	if err != nil {
		h.logger.Error("Failed to get deployment", zap.String("identity_key", identityKey), zap.Error(err))
		respondFailure(w, "Failed to get deployment", err)
		return
	}
	if deployment == nil {
		respondError(w, http.StatusNotFound, "No creator token for identity", nil)
		return
	}

	respondJSON(w, http.StatusOK, deployment)
}

// ==================== Helper Functions ====================

// resolveWallet maps a request address onto a connected signer. It writes
// the error response itself and reports whether the caller may continue.
func (h *Handler) resolveWallet(w http.ResponseWriter, address string) (evm.Wallet, bool) {
	addr, err := evm.ParseAddress(address)
	if err != nil {
		respondFailure(w, "Invalid wallet address", err)
		return nil, false
	}
	wallet, err := h.wallets.Get(addr)
	if err != nil {
		respondFailure(w, "Wallet not connected", err)
		return nil, false
	}
	return wallet, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxListLimit {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return n, true
}

// statusFor maps an error kind onto an HTTP status
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput, errs.KindUserRejected:
		return http.StatusBadRequest
	case errs.KindDuplicateClaim, errs.KindAlreadyInProgress:
		return http.StatusConflict
	case errs.KindPrecondition, errs.KindNotEligible:
		return http.StatusPreconditionFailed
	case errs.KindRevert, errs.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case errs.KindNotAContract:
		return http.StatusBadGateway
	case errs.KindConnectivity:
		return http.StatusServiceUnavailable
	case errs.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the status and payload for a classified failure
func errorBody(message string, err error) (int, ErrorResponse) {
	kind := errs.KindOf(err)
	body := ErrorResponse{
		Error:   message,
		Message: fmt.Sprintf("%s: %v", message, err),
		Kind:    string(kind),
		Reason:  errs.ReasonOf(err),
	}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Step = e.Step
	}
	if kind == errs.KindInternal {
		// Internal causes may carry driver details.
		body.Message = message
	}
	return statusFor(kind), body
}

// respondFailure sends an error response whose status follows the error kind
func respondFailure(w http.ResponseWriter, message string, err error) {
	status, body := errorBody(message, err)
	respondJSON(w, status, body)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
