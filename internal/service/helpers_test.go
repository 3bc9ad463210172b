package service

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/blockchain/evm/stub"
	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/registry/memory"
)

const testChainID = 31337

var (
	tokenAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	poolAddr  = common.HexToAddress("0x2000000000000000000000000000000000000002")

	creatorBytecode = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15}
)

// whole returns n whole tokens at 6 decimals in smallest units.
func whole(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type harness struct {
	chain     *stub.Chain
	reg       *memory.Registry
	campaigns *Campaigns
	contracts *evm.Contracts
	locks     *WalletLocks
	verifier  *EligibilityVerifier
	staking   *StakingWorkflow
	creator   *CreatorTokenWorkflow
	claims    *ClaimService
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	chain := stub.New(testChainID)
	chain.AddToken(tokenAddr, "Campaign Token", "CMP", 6, common.Address{})
	chain.AddStakingPool(poolAddr, tokenAddr)
	chain.SetCreatorBytecode(creatorBytecode)

	campaigns, err := NewCampaigns(map[string]config.CampaignConfig{
		"launch": {
			ChainID:                "31337",
			MinimumStakeUnits:      whole(10_000).String(),
			StakingContractAddress: poolAddr.Hex(),
			TokenContractAddress:   tokenAddr.Hex(),
			StakeBasis:             config.StakeBasisBalance,
			RequireMinimumStake:    true,
		},
		"creators": {
			ChainID:                "31337",
			MinimumStakeUnits:      "0",
			StakingContractAddress: poolAddr.Hex(),
			TokenContractAddress:   tokenAddr.Hex(),
			StakeBasis:             config.StakeBasisCombined,
			RequireMembership:      true,
		},
	})
	require.NoError(t, err)

	logger := zap.NewNop()
	reg := memory.New()
	contracts := evm.NewContracts(chain, logger)
	factory, err := contracts.CreatorTokens(hexutil.Encode(creatorBytecode))
	require.NoError(t, err)

	locks := NewWalletLocks()
	verifier := NewEligibilityVerifier(contracts, campaigns, reg, testRetry(), logger)
	return &harness{
		chain:     chain,
		reg:       reg,
		campaigns: campaigns,
		contracts: contracts,
		locks:     locks,
		verifier:  verifier,
		staking:   NewStakingWorkflow(contracts, campaigns, reg, locks, testRetry(), logger),
		creator:   NewCreatorTokenWorkflow(contracts, factory, verifier, reg, locks, testRetry(), logger),
		claims:    NewClaimService(reg, verifier, campaigns, logger),
	}
}

func newWallet(t *testing.T) *evm.KeyWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return evm.NewKeyWalletFromECDSA(key, big.NewInt(testChainID))
}
