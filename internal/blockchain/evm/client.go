package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/errs"
	"airdrop/offchain/internal/metrics"
)

// rpcBackend is the subset of *ethclient.Client the gateway uses.
type rpcBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Client is the JSON-RPC implementation of Gateway.
type Client struct {
	backend     rpcBackend
	chainConfig config.ChainConfig
	chainID     *big.Int
	logger      *zap.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient dials the configured endpoint and verifies the node serves the
// configured chain.
func NewClient(ctx context.Context, chainCfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", chainCfg.RPCEndpoint, err)
	}

	c, err := newClient(ctx, ethClient, chainCfg, logger)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	return c, nil
}

func newClient(ctx context.Context, backend rpcBackend, chainCfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	want := chainCfg.ChainIDBig()
	if want == nil {
		return nil, fmt.Errorf("invalid chain id %q", chainCfg.ChainID)
	}

	got, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if got.Cmp(want) != 0 {
		return nil, fmt.Errorf("RPC endpoint serves chain %s, configured chain is %s", got, want)
	}

	logger.Info("EVM client initialized",
		zap.String("chain_id", chainCfg.ChainID),
		zap.String("chain_name", chainCfg.Name))

	return &Client{
		backend:     backend,
		chainConfig: chainCfg,
		chainID:     want,
		logger:      logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.backend.Close()
}

// ChainID returns the verified chain ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// GetBalance returns the native balance of an address
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, c.fail("get balance", err)
	}
	return bal, nil
}

// CallContract executes a read-only call
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, c.fail("call contract", err)
	}
	return out, nil
}

// CodeAt returns the bytecode at addr
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, c.fail("get code", err)
	}
	return code, nil
}

// SendTransaction creates, signs, and sends a transaction
func (c *Client) SendTransaction(
	ctx context.Context,
	w Wallet,
	to common.Address,
	data []byte,
	value *big.Int,
) (common.Hash, error) {
	const op = "send transaction"

	if w.ChainID().Cmp(c.chainID) != 0 {
		return common.Hash{}, errs.Reasonf(errs.KindInvalidInput, op, "wallet is on chain %s, expected %s", w.ChainID(), c.chainID)
	}
	if value == nil {
		value = new(big.Int)
	}
	from := w.Address()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, c.fail(op, fmt.Errorf("failed to get nonce: %w", err))
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, c.fail(op, fmt.Errorf("failed to suggest gas price: %w", err))
	}

	// A call that would revert fails here, before anything is signed.
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return common.Hash{}, c.fail(op, fmt.Errorf("failed to estimate gas: %w", err))
	}

	gasLimit = gasLimit * uint64(100+c.chainConfig.GasBufferPct) / 100

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := w.SignTx(ctx, tx)
	if err != nil {
		return common.Hash{}, c.fail(op, err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		// The node may have accepted it before the connection dropped.
		if isKnownTransaction(err) {
			c.logger.Warn("Node already knows the transaction",
				zap.String("tx_hash", signedTx.Hash().Hex()))
		} else if _, _, lookupErr := c.backend.TransactionByHash(ctx, signedTx.Hash()); lookupErr == nil {
			c.logger.Warn("Broadcast returned an error but the node knows the transaction",
				zap.String("tx_hash", signedTx.Hash().Hex()),
				zap.Error(err))
		} else {
			sendErr := c.fail(op, fmt.Errorf("failed to send transaction: %w", err))
			if errs.KindOf(sendErr) == errs.KindConnectivity {
				// Outcome unknown: the signed hash goes back with the error so
				// the caller waits on it instead of signing again.
				return signedTx.Hash(), sendErr
			}
			return common.Hash{}, sendErr
		}
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return signedTx.Hash(), nil
}

// WaitForReceipt waits for a transaction to be mined
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	const op = "wait for receipt"
	start := time.Now()
	defer func() { metrics.ReceiptWait.Observe(time.Since(start).Seconds()) }()

	waitCtx, cancel := context.WithTimeout(ctx, c.chainConfig.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.chainConfig.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return c.toReceipt(ctx, op, receipt)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			c.logger.Debug("Receipt lookup failed, retrying",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, errs.E(errs.KindCanceled, op, ctx.Err())
			}
			return nil, errs.Reasonf(errs.KindConnectivity, op, "timeout waiting for transaction %s", hash.Hex())
		case <-ticker.C:
			// Transaction not yet mined, continue waiting
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, op string, r *types.Receipt) (*Receipt, error) {
	out := &Receipt{
		TxHash:          r.TxHash,
		Status:          r.Status,
		GasUsed:         r.GasUsed,
		ContractAddress: r.ContractAddress,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status == types.ReceiptStatusSuccessful {
		return out, nil
	}

	reason := c.replayRevert(ctx, r)
	c.logger.Warn("Transaction reverted",
		zap.String("tx_hash", r.TxHash.Hex()),
		zap.String("reason", reason))
	metrics.ChainErrors.WithLabelValues(string(errs.KindRevert)).Inc()
	return out, &errs.Error{Kind: errs.KindRevert, Op: op, Reason: reason}
}

// replayRevert re-executes a failed transaction at its block to recover the
// revert reason. Best effort: an empty string means unknown.
func (c *Client) replayRevert(ctx context.Context, r *types.Receipt) string {
	tx, _, err := c.backend.TransactionByHash(ctx, r.TxHash)
	if err != nil || tx == nil || tx.To() == nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return ""
	}
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, r.BlockNumber)
	if err == nil {
		return ""
	}
	reason, _ := revertReason(err)
	return reason
}

func (c *Client) fail(op string, err error) error {
	classified := classifyError(op, err)
	metrics.ChainErrors.WithLabelValues(string(errs.KindOf(classified))).Inc()
	return classified
}
