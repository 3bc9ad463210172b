package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"airdrop/offchain/internal/errs"
)

// CreatorTokenFactory deploys creator tokens through the deterministic
// deployment proxy so the contract address is known before broadcasting.
type CreatorTokenFactory struct {
	gw       Gateway
	factory  common.Address
	bytecode []byte
	logger   *zap.Logger
}

// CreatorTokens returns a factory for the given creation bytecode (hex, no
// constructor arguments).
func (c *Contracts) CreatorTokens(bytecodeHex string) (*CreatorTokenFactory, error) {
	bytecode, err := hexutil.Decode(bytecodeHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode creator token bytecode: %w", err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("creator token bytecode is empty")
	}
	return &CreatorTokenFactory{
		gw:       c.gw,
		factory:  ArachnidFactoryAddress,
		bytecode: bytecode,
		logger:   c.logger.Named("creator_factory"),
	}, nil
}

// DeploySpec is everything that determines a creator token's address.
type DeploySpec struct {
	IdentityKey  string
	Name         string
	Symbol       string
	InitialOwner common.Address
}

// InitCode is the creation bytecode followed by the ABI-encoded constructor
// arguments.
func (f *CreatorTokenFactory) InitCode(spec DeploySpec) ([]byte, error) {
	args, err := TokenABI.Pack("", spec.Name, spec.Symbol, spec.InitialOwner)
	if err != nil {
		return nil, errs.E(errs.KindInternal, "deploy", fmt.Errorf("failed to pack constructor: %w", err))
	}
	initCode := make([]byte, 0, len(f.bytecode)+len(args))
	initCode = append(initCode, f.bytecode...)
	return append(initCode, args...), nil
}

// ExpectedAddress computes where spec deploys to on this chain.
func (f *CreatorTokenFactory) ExpectedAddress(spec DeploySpec) (common.Address, error) {
	initCode, err := f.InitCode(spec)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := ComputeCreatorTokenAddress(f.factory, spec.IdentityKey, f.gw.ChainID().String(), initCode)
	if err != nil {
		return common.Address{}, errs.E(errs.KindInvalidInput, "deploy", err)
	}
	return addr, nil
}

// Matches reports whether addr is the deterministic address of spec.
func (f *CreatorTokenFactory) Matches(spec DeploySpec, addr common.Address) (bool, error) {
	initCode, err := f.InitCode(spec)
	if err != nil {
		return false, err
	}
	ok, err := VerifyCreatorTokenAddress(addr, f.factory, spec.IdentityKey, f.gw.ChainID().String(), initCode)
	if err != nil {
		return false, errs.E(errs.KindInvalidInput, "deploy", err)
	}
	return ok, nil
}

// Deploy submits the CREATE2 deployment and returns the expected contract
// address with the transaction hash. The contract is not usable until
// ConfirmDeployment succeeds. A hash returned with an error follows the
// Gateway.SendTransaction contract.
func (f *CreatorTokenFactory) Deploy(ctx context.Context, w Wallet, spec DeploySpec) (common.Address, common.Hash, error) {
	initCode, err := f.InitCode(spec)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	chainID := f.gw.ChainID().String()
	addr, err := ComputeCreatorTokenAddress(f.factory, spec.IdentityKey, chainID, initCode)
	if err != nil {
		return common.Address{}, common.Hash{}, errs.E(errs.KindInvalidInput, "deploy", err)
	}

	salt := GenerateSalt(spec.IdentityKey, chainID)
	hash, err := f.gw.SendTransaction(ctx, w, f.factory, Create2Calldata(salt, initCode), nil)
	if err != nil {
		return addr, hash, err
	}

	f.logger.Info("Creator token deployment sent",
		zap.String("identity_key", spec.IdentityKey),
		zap.String("expected_address", addr.Hex()),
		zap.String("tx_hash", hash.Hex()))
	return addr, hash, nil
}

// ConfirmDeployment waits for the deploy receipt and checks that code now
// exists at the expected address.
func (f *CreatorTokenFactory) ConfirmDeployment(ctx context.Context, hash common.Hash, expected common.Address) (*Receipt, error) {
	receipt, err := f.gw.WaitForReceipt(ctx, hash)
	if err != nil {
		return receipt, err
	}
	deployed, err := f.HasCode(ctx, expected)
	if err != nil {
		return receipt, err
	}
	if !deployed {
		return receipt, errs.Reasonf(errs.KindRevert, "deploy", "no contract code at %s after confirmed deployment", expected.Hex())
	}
	return receipt, nil
}

// HasCode reports whether any contract lives at addr.
func (f *CreatorTokenFactory) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := f.gw.CodeAt(ctx, addr)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}
