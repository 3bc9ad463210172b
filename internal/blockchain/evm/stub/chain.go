// Package stub is a deterministic in-memory chain implementing evm.Gateway.
// It decodes calls with the same ABIs the production clients encode with, so
// workflow tests exercise real calldata without a node.
package stub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/errs"
)

var placeholderCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52}

// Tx is a transaction the chain accepted.
type Tx struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Method string
	Data   []byte
	Status uint64
}

type token struct {
	name       string
	symbol     string
	decimals   uint8
	owner      common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

type pool struct {
	token  common.Address
	staked map[common.Address]*big.Int
}

type fault struct {
	err       error // returned by SendTransaction / CallContract
	reason    string
	remaining int // <= 0 means every time
}

// Chain is the fake. The zero value is not usable; call New.
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	block    uint64
	nonces   map[common.Address]uint64
	native   map[common.Address]*big.Int
	code     map[common.Address][]byte
	tokens   map[common.Address]*token
	pools    map[common.Address]*pool
	receipts map[common.Hash]*evm.Receipt
	reasons  map[common.Hash]string
	txs      []Tx

	creatorBytecode []byte

	sendFaults    map[string]*fault
	lostAcks      map[string]*fault
	chainReverts  map[string]*fault
	callFaults    map[string]*fault
	holdReceipts  bool
	receiptWaiter chan struct{}
}

var _ evm.Gateway = (*Chain)(nil)

// New creates an empty chain.
func New(chainID int64) *Chain {
	return &Chain{
		chainID:       big.NewInt(chainID),
		nonces:        make(map[common.Address]uint64),
		native:        make(map[common.Address]*big.Int),
		code:          make(map[common.Address][]byte),
		tokens:        make(map[common.Address]*token),
		pools:         make(map[common.Address]*pool),
		receipts:      make(map[common.Hash]*evm.Receipt),
		reasons:       make(map[common.Hash]string),
		sendFaults:    make(map[string]*fault),
		lostAcks:      make(map[string]*fault),
		chainReverts:  make(map[string]*fault),
		callFaults:    make(map[string]*fault),
		receiptWaiter: make(chan struct{}),
	}
}

// ==================== Setup ====================

// AddToken deploys an ERC-20 with the given metadata. A zero owner lets
// anyone mint.
func (c *Chain) AddToken(addr common.Address, name, symbol string, decimals uint8, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[addr] = newToken(name, symbol, decimals, owner)
	c.code[addr] = placeholderCode
}

// AddStakingPool deploys a staking pool that pulls tokenAddr.
func (c *Chain) AddStakingPool(addr, tokenAddr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[addr] = &pool{token: tokenAddr, staked: make(map[common.Address]*big.Int)}
	c.code[addr] = placeholderCode
}

// SetCreatorBytecode registers the creation code the factory accepts, so
// constructor arguments can be split off the init code.
func (c *Chain) SetCreatorBytecode(bytecode []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creatorBytecode = append([]byte(nil), bytecode...)
	c.code[evm.ArachnidFactoryAddress] = placeholderCode
}

// SetCode places arbitrary code at addr.
func (c *Chain) SetCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = code
}

// SetBalance sets holder's balance of tokenAddr in smallest units.
func (c *Chain) SetBalance(tokenAddr, holder common.Address, units *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenAddr].balances[holder] = new(big.Int).Set(units)
}

// SetAllowance sets an allowance directly, as if approved earlier.
func (c *Chain) SetAllowance(tokenAddr, owner, spender common.Address, units *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenAddr].setAllowance(owner, spender, units)
}

// FailSend makes SendTransaction for method return err, times times (0 = always).
func (c *Chain) FailSend(method string, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendFaults[method] = &fault{err: err, remaining: times}
}

// LoseSendAck executes transactions for method but answers SendTransaction
// with the hash and a Connectivity error, as when the connection drops after
// the node accepted the broadcast. times times (0 = always).
func (c *Chain) LoseSendAck(method string, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostAcks[method] = &fault{err: Connectivity(), remaining: times}
}

// RevertOnChain lets transactions for method be mined with status 0.
func (c *Chain) RevertOnChain(method, reason string, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainReverts[method] = &fault{reason: reason, remaining: times}
}

// FailCall makes CallContract for method return err, times times (0 = always).
func (c *Chain) FailCall(method string, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFaults[method] = &fault{err: err, remaining: times}
}

// HoldReceipts makes WaitForReceipt block until ReleaseReceipts or ctx ends.
func (c *Chain) HoldReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdReceipts = true
}

// ReleaseReceipts unblocks held waiters.
func (c *Chain) ReleaseReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holdReceipts {
		c.holdReceipts = false
		close(c.receiptWaiter)
		c.receiptWaiter = make(chan struct{})
	}
}

// Classified errors for fault injection.

func Revert(reason string) error {
	return &errs.Error{Kind: errs.KindRevert, Op: "send transaction", Reason: reason}
}

func Connectivity() error {
	return errs.Reasonf(errs.KindConnectivity, "send transaction", "connection refused")
}

func UserRejected() error {
	return errs.Reasonf(errs.KindUserRejected, "sign transaction", "request denied")
}

// ==================== Inspection ====================

// Txs returns every accepted transaction in order.
func (c *Chain) Txs() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.txs...)
}

// TxCount counts accepted transactions calling method.
func (c *Chain) TxCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tx := range c.txs {
		if tx.Method == method {
			n++
		}
	}
	return n
}

// Balance returns holder's token balance.
func (c *Chain) Balance(tokenAddr, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.tokens[tokenAddr].balance(holder))
}

// Staked returns holder's staked amount in poolAddr.
func (c *Chain) Staked(poolAddr, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(valueOrZero(c.pools[poolAddr].staked[holder]))
}

// TokenOwner returns the owner of a deployed (creator) token.
func (c *Chain) TokenOwner(tokenAddr common.Address) (common.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[tokenAddr]
	if !ok {
		return common.Address{}, false
	}
	return t.owner, true
}

// ==================== Gateway ====================

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindCanceled, "get balance", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.native[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), nil
}

func (c *Chain) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindCanceled, "get code", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.code[addr]...), nil
}

func (c *Chain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindCanceled, "call contract", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tokens[to]; ok {
		method, args, err := decode(evm.TokenABI, data)
		if err != nil {
			return nil, err
		}
		if err := c.takeFault(c.callFaults, method.Name); err != nil {
			return nil, err
		}
		return t.call(method, args)
	}
	if p, ok := c.pools[to]; ok {
		method, args, err := decode(evm.StakingABI, data)
		if err != nil {
			return nil, err
		}
		if err := c.takeFault(c.callFaults, method.Name); err != nil {
			return nil, err
		}
		switch method.Name {
		case "stakedBalanceOf":
			return method.Outputs.Pack(valueOrZero(p.staked[args[0].(common.Address)]))
		case "stakingToken":
			return method.Outputs.Pack(p.token)
		}
	}
	// Accounts without code return empty data, exactly like a node.
	return nil, nil
}

func (c *Chain) SendTransaction(ctx context.Context, w evm.Wallet, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, errs.E(errs.KindCanceled, "send transaction", err)
	}
	if w.ChainID().Cmp(c.chainID) != 0 {
		return common.Hash{}, errs.Reasonf(errs.KindInvalidInput, "send transaction", "wrong chain")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from := w.Address()
	methodName := c.methodName(to, data)
	if err := c.takeFault(c.sendFaults, methodName); err != nil {
		return common.Hash{}, err
	}

	var status uint64 = 1
	var revertReason string
	if f := c.chainReverts[methodName]; f != nil && c.consume(c.chainReverts, methodName, f) {
		status, revertReason = 0, f.reason
	} else if reason, err := c.execute(from, to, data); err != nil {
		return common.Hash{}, err
	} else if reason != "" {
		// Mirrors eth_estimateGas rejecting a call that would revert.
		return common.Hash{}, &errs.Error{Kind: errs.KindRevert, Op: "send transaction", Reason: reason}
	}

	nonce := c.nonces[from]
	c.nonces[from] = nonce + 1
	var seed [28]byte
	copy(seed[:20], from.Bytes())
	binary.BigEndian.PutUint64(seed[20:], nonce)
	hash := crypto.Keccak256Hash(seed[:], data)

	c.block++
	receipt := &evm.Receipt{TxHash: hash, Status: status, BlockNumber: c.block, GasUsed: 21000}
	if status == 0 {
		c.reasons[hash] = revertReason
	}
	c.receipts[hash] = receipt
	c.txs = append(c.txs, Tx{Hash: hash, From: from, To: to, Method: methodName, Data: append([]byte(nil), data...), Status: receipt.Status})
	if err := c.takeFault(c.lostAcks, methodName); err != nil {
		return hash, err
	}
	return hash, nil
}

func (c *Chain) WaitForReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	const op = "wait for receipt"
	for {
		c.mu.Lock()
		held, waiter := c.holdReceipts, c.receiptWaiter
		receipt, ok := c.receipts[hash]
		reason := c.reasons[hash]
		c.mu.Unlock()

		if !held {
			if !ok {
				return nil, errs.Reasonf(errs.KindConnectivity, op, "timeout waiting for transaction %s", hash.Hex())
			}
			cp := *receipt
			if cp.Status == 0 {
				return &cp, &errs.Error{Kind: errs.KindRevert, Op: op, Reason: reason}
			}
			return &cp, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, errs.E(errs.KindCanceled, op, ctx.Err())
			}
			return nil, errs.Reasonf(errs.KindConnectivity, op, "timeout waiting for transaction %s", hash.Hex())
		case <-waiter:
		}
	}
}

// ==================== Execution ====================

func (c *Chain) methodName(to common.Address, data []byte) string {
	if to == evm.ArachnidFactoryAddress {
		return "deploy"
	}
	var contractABI abi.ABI
	switch {
	case c.tokens[to] != nil:
		contractABI = evm.TokenABI
	case c.pools[to] != nil:
		contractABI = evm.StakingABI
	default:
		return ""
	}
	if len(data) < 4 {
		return ""
	}
	m, err := contractABI.MethodById(data[:4])
	if err != nil {
		return ""
	}
	return m.Name
}

// execute applies a state change. A non-empty reason means the call reverts
// and nothing changed.
func (c *Chain) execute(from, to common.Address, data []byte) (string, error) {
	if to == evm.ArachnidFactoryAddress {
		return c.deploy(data)
	}
	if t, ok := c.tokens[to]; ok {
		method, args, err := decode(evm.TokenABI, data)
		if err != nil {
			return "", err
		}
		switch method.Name {
		case "approve":
			t.setAllowance(from, args[0].(common.Address), args[1].(*big.Int))
			return "", nil
		case "mint":
			if t.owner != (common.Address{}) && t.owner != from {
				return "Ownable: caller is not the owner", nil
			}
			recipient := args[0].(common.Address)
			t.balances[recipient] = new(big.Int).Add(t.balance(recipient), args[1].(*big.Int))
			return "", nil
		}
		return "function not payable", nil
	}
	if p, ok := c.pools[to]; ok {
		method, args, err := decode(evm.StakingABI, data)
		if err != nil {
			return "", err
		}
		if method.Name != "stake" {
			return "function not payable", nil
		}
		amount := args[0].(*big.Int)
		if amount.Sign() == 0 {
			return "Cannot stake 0", nil
		}
		t := c.tokens[p.token]
		allowance := t.allowance(from, to)
		if allowance.Cmp(amount) < 0 {
			return "ERC20: insufficient allowance", nil
		}
		if t.balance(from).Cmp(amount) < 0 {
			return "ERC20: transfer amount exceeds balance", nil
		}
		t.setAllowance(from, to, new(big.Int).Sub(allowance, amount))
		t.balances[from] = new(big.Int).Sub(t.balance(from), amount)
		t.balances[to] = new(big.Int).Add(t.balance(to), amount)
		p.staked[from] = new(big.Int).Add(valueOrZero(p.staked[from]), amount)
		return "", nil
	}
	return "", nil
}

func (c *Chain) deploy(data []byte) (string, error) {
	if len(data) < 32 || len(c.creatorBytecode) == 0 {
		return "", errs.Reasonf(errs.KindInternal, "deploy", "stub factory is not configured")
	}
	var salt [32]byte
	copy(salt[:], data[:32])
	initCode := data[32:]
	addr := crypto.CreateAddress2(evm.ArachnidFactoryAddress, salt, crypto.Keccak256(initCode))
	if len(c.code[addr]) > 0 {
		return "create2 collision", nil
	}
	if len(initCode) < len(c.creatorBytecode) {
		return "invalid init code", nil
	}
	args, err := evm.TokenABI.Constructor.Inputs.Unpack(initCode[len(c.creatorBytecode):])
	if err != nil {
		return "invalid constructor arguments", nil
	}
	c.tokens[addr] = newToken(args[0].(string), args[1].(string), 18, args[2].(common.Address))
	c.code[addr] = append([]byte(nil), c.creatorBytecode...)
	return "", nil
}

// takeFault returns the injected error for method, if any is armed.
func (c *Chain) takeFault(faults map[string]*fault, method string) error {
	f := faults[method]
	if f == nil || !c.consume(faults, method, f) {
		return nil
	}
	return f.err
}

func (c *Chain) consume(faults map[string]*fault, method string, f *fault) bool {
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(faults, method)
		}
	}
	return true
}

func decode(contractABI abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errs.Reasonf(errs.KindRevert, "call contract", "missing selector")
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, &errs.Error{Kind: errs.KindRevert, Op: "call contract", Reason: "unknown selector", Err: err}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &errs.Error{Kind: errs.KindRevert, Op: "call contract", Reason: "bad calldata", Err: err}
	}
	return method, args, nil
}

func newToken(name, symbol string, decimals uint8, owner common.Address) *token {
	return &token{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		owner:      owner,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *token) call(method *abi.Method, args []any) ([]byte, error) {
	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(t.balance(args[0].(common.Address)))
	case "decimals":
		return method.Outputs.Pack(t.decimals)
	case "name":
		return method.Outputs.Pack(t.name)
	case "symbol":
		return method.Outputs.Pack(t.symbol)
	case "allowance":
		return method.Outputs.Pack(t.allowance(args[0].(common.Address), args[1].(common.Address)))
	case "owner":
		return method.Outputs.Pack(t.owner)
	}
	return nil, fmt.Errorf("stub: %s is not a view method", method.Name)
}

func (t *token) balance(holder common.Address) *big.Int {
	return valueOrZero(t.balances[holder])
}

func (t *token) allowance(owner, spender common.Address) *big.Int {
	return valueOrZero(t.allowances[owner][spender])
}

func (t *token) setAllowance(owner, spender common.Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
