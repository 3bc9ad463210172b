package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/units"
)

const decimalsCacheSize = 512

// Contracts builds typed contract clients over one gateway. Token decimals
// are immutable in practice, so they are cached per contract address.
type Contracts struct {
	gw       Gateway
	decimals *lru.Cache
	logger   *zap.Logger
}

// NewContracts creates the contract client factory.
func NewContracts(gw Gateway, logger *zap.Logger) *Contracts {
	cache, err := lru.New(decimalsCacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &Contracts{gw: gw, decimals: cache, logger: logger}
}

// Gateway returns the underlying gateway.
func (c *Contracts) Gateway() Gateway {
	return c.gw
}

// Token returns a client for the ERC-20 (or creator token) at addr.
func (c *Contracts) Token(addr common.Address) *TokenContract {
	return &TokenContract{gw: c.gw, address: addr, decimals: c.decimals}
}

// Staking returns a client for the staking pool at addr pulling token.
func (c *Contracts) Staking(addr common.Address, token *TokenContract) *StakingContract {
	return &StakingContract{gw: c.gw, address: addr, token: token}
}

// TokenContract is a typed ERC-20 client. Amounts always use the contract's
// own decimals.
type TokenContract struct {
	gw       Gateway
	address  common.Address
	decimals *lru.Cache
}

// Address returns the contract address.
func (t *TokenContract) Address() common.Address {
	return t.address
}

// Decimals returns the contract's decimals(), cached after the first read.
func (t *TokenContract) Decimals(ctx context.Context) (uint8, error) {
	if v, ok := t.decimals.Get(t.address); ok {
		return v.(uint8), nil
	}
	out, err := callContract(ctx, t.gw, TokenABI, t.address, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok || d > units.MaxDecimals {
		return 0, errs.Reasonf(errs.KindInternal, "decimals", "unexpected decimals %v from %s", out[0], t.address.Hex())
	}
	t.decimals.Add(t.address, d)
	return d, nil
}

// Amount parses a human-readable amount at the token's scale.
func (t *TokenContract) Amount(ctx context.Context, s string) (units.TokenAmount, error) {
	d, err := t.Decimals(ctx)
	if err != nil {
		return units.TokenAmount{}, err
	}
	a, err := units.Parse(s, d)
	if err != nil {
		return units.TokenAmount{}, &errs.Error{Kind: errs.KindInvalidInput, Op: "parse amount", Reason: err.Error(), Err: err}
	}
	return a, nil
}

// BalanceOf returns owner's token balance.
func (t *TokenContract) BalanceOf(ctx context.Context, owner common.Address) (units.TokenAmount, error) {
	return t.amountCall(ctx, "balanceOf", owner)
}

// Allowance returns how much spender may pull from owner.
func (t *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (units.TokenAmount, error) {
	return t.amountCall(ctx, "allowance", owner, spender)
}

// Name returns the token name.
func (t *TokenContract) Name(ctx context.Context) (string, error) {
	return t.stringCall(ctx, "name")
}

// Symbol returns the token symbol.
func (t *TokenContract) Symbol(ctx context.Context) (string, error) {
	return t.stringCall(ctx, "symbol")
}

// Approve submits approve(spender, amount) and returns the transaction hash.
func (t *TokenContract) Approve(ctx context.Context, w Wallet, spender common.Address, amount units.TokenAmount) (common.Hash, error) {
	if err := t.checkScale(ctx, "approve", amount); err != nil {
		return common.Hash{}, err
	}
	data, err := TokenABI.Pack("approve", spender, amount.Big())
	if err != nil {
		return common.Hash{}, errs.E(errs.KindInternal, "approve", err)
	}
	return t.gw.SendTransaction(ctx, w, t.address, data, nil)
}

// Mint submits mint(to, amount) and returns the transaction hash.
func (t *TokenContract) Mint(ctx context.Context, w Wallet, to common.Address, amount units.TokenAmount) (common.Hash, error) {
	if err := t.checkScale(ctx, "mint", amount); err != nil {
		return common.Hash{}, err
	}
	data, err := TokenABI.Pack("mint", to, amount.Big())
	if err != nil {
		return common.Hash{}, errs.E(errs.KindInternal, "mint", err)
	}
	return t.gw.SendTransaction(ctx, w, t.address, data, nil)
}

func (t *TokenContract) checkScale(ctx context.Context, op string, amount units.TokenAmount) error {
	d, err := t.Decimals(ctx)
	if err != nil {
		return err
	}
	if amount.Decimals() != d {
		return errs.Reasonf(errs.KindInvalidInput, op, "amount has %d decimals, token uses %d", amount.Decimals(), d)
	}
	return nil
}

func (t *TokenContract) amountCall(ctx context.Context, method string, args ...any) (units.TokenAmount, error) {
	d, err := t.Decimals(ctx)
	if err != nil {
		return units.TokenAmount{}, err
	}
	out, err := callContract(ctx, t.gw, TokenABI, t.address, method, args...)
	if err != nil {
		return units.TokenAmount{}, err
	}
	return toAmount(method, out, d)
}

func (t *TokenContract) stringCall(ctx context.Context, method string) (string, error) {
	out, err := callContract(ctx, t.gw, TokenABI, t.address, method)
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", errs.Reasonf(errs.KindInternal, method, "unexpected %s result %T", method, out[0])
	}
	return s, nil
}

// StakingContract is a typed client for the staking pool. Stake pulls the
// approved amount from the caller with transferFrom.
type StakingContract struct {
	gw      Gateway
	address common.Address
	token   *TokenContract
}

// Address returns the pool address.
func (s *StakingContract) Address() common.Address {
	return s.address
}

// Token returns the staked token.
func (s *StakingContract) Token() *TokenContract {
	return s.token
}

// Stake submits stake(amount).
func (s *StakingContract) Stake(ctx context.Context, w Wallet, amount units.TokenAmount) (common.Hash, error) {
	if err := s.token.checkScale(ctx, "stake", amount); err != nil {
		return common.Hash{}, err
	}
	data, err := StakingABI.Pack("stake", amount.Big())
	if err != nil {
		return common.Hash{}, errs.E(errs.KindInternal, "stake", err)
	}
	return s.gw.SendTransaction(ctx, w, s.address, data, nil)
}

// StakedBalance returns what owner currently has staked in the pool.
func (s *StakingContract) StakedBalance(ctx context.Context, owner common.Address) (units.TokenAmount, error) {
	d, err := s.token.Decimals(ctx)
	if err != nil {
		return units.TokenAmount{}, err
	}
	out, err := callContract(ctx, s.gw, StakingABI, s.address, "stakedBalanceOf", owner)
	if err != nil {
		return units.TokenAmount{}, err
	}
	return toAmount("stakedBalanceOf", out, d)
}

// callContract packs, calls and unpacks a view method. An empty result from
// an address without code is NotAContract rather than a zero value.
func callContract(ctx context.Context, gw Gateway, contractABI abi.ABI, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errs.E(errs.KindInternal, method, err)
	}
	raw, err := gw.CallContract(ctx, addr, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		code, err := gw.CodeAt(ctx, addr)
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			return nil, errs.Reasonf(errs.KindNotAContract, method, "no contract code at %s", addr.Hex())
		}
		return nil, errs.Reasonf(errs.KindInternal, method, "empty result from %s", addr.Hex())
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, errs.E(errs.KindInternal, method, fmt.Errorf("failed to decode %s result: %w", method, err))
	}
	if len(out) == 0 {
		return nil, errs.Reasonf(errs.KindInternal, method, "no outputs")
	}
	return out, nil
}

func toAmount(method string, out []any, decimals uint8) (units.TokenAmount, error) {
	b, ok := out[0].(*big.Int)
	if !ok {
		return units.TokenAmount{}, errs.Reasonf(errs.KindInternal, method, "unexpected %s result %T", method, out[0])
	}
	a, err := units.FromBig(b, decimals)
	if err != nil {
		return units.TokenAmount{}, errs.E(errs.KindInternal, method, err)
	}
	return a, nil
}
