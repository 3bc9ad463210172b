package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway is the chain surface every contract client and workflow is built on.
// All errors returned are *errs.Error values classified by kind.
type Gateway interface {
	// ChainID is the configured (and verified) chain id.
	ChainID() *big.Int

	// GetBalance returns the native balance of addr.
	GetBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// CallContract executes a read-only call against the latest block.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// CodeAt returns the deployed bytecode at addr, empty for accounts without code.
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)

	// SendTransaction signs with w and broadcasts. It returns once the node has
	// accepted the transaction, not when it is mined. When the transaction was
	// signed but the broadcast outcome is unknown, the signed hash is returned
	// together with a Connectivity error; callers must wait on that hash and
	// never sign the same call again.
	SendTransaction(ctx context.Context, w Wallet, to common.Address, data []byte, value *big.Int) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined, the receipt timeout
	// elapses or ctx is done. Cancelling stops the wait only; the transaction
	// stays broadcast. A mined transaction with status 0 is a Revert error
	// returned together with its receipt.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// Receipt is the part of a transaction receipt the workflows care about.
type Receipt struct {
	TxHash          common.Hash
	Status          uint64
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
}

// Succeeded reports status 1.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}
