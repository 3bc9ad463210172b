package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"airdrop/offchain/internal/errs"
)

// Wallet is a connected signer. It is never persisted.
type Wallet interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// KeyWallet signs with a locally held ECDSA key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewKeyWallet parses a hex private key (0x prefix optional).
func NewKeyWallet(privateKeyHex string, chainID *big.Int) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeyWalletFromECDSA(key, chainID), nil
}

// NewKeyWalletFromECDSA wraps an existing key.
func NewKeyWalletFromECDSA(key *ecdsa.PrivateKey, chainID *big.Int) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}
}

func (w *KeyWallet) Address() common.Address { return w.address }

func (w *KeyWallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

func (w *KeyWallet) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.key)
}

// ExternalWallet delegates signing to a clef-compatible external signer, where
// a human may approve or deny each request.
type ExternalWallet struct {
	signer  *external.ExternalSigner
	account accounts.Account
	chainID *big.Int
}

// ExternalWallets connects to endpoint and returns one wallet per account it
// exposes.
func ExternalWallets(endpoint string, chainID *big.Int) ([]*ExternalWallet, error) {
	signer, err := external.NewExternalSigner(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to external signer %s: %w", endpoint, err)
	}
	var wallets []*ExternalWallet
	for _, acc := range signer.Accounts() {
		wallets = append(wallets, &ExternalWallet{signer: signer, account: acc, chainID: new(big.Int).Set(chainID)})
	}
	return wallets, nil
}

func (w *ExternalWallet) Address() common.Address { return w.account.Address }

func (w *ExternalWallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// SignTx blocks until the signer answers. A denial is classified as
// UserRejected.
func (w *ExternalWallet) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := w.signer.SignTx(w.account, tx, w.chainID)
	if err != nil {
		return nil, classifyError("sign transaction", err)
	}
	return signed, nil
}

// WalletSet resolves the wallet a request claims to act for.
type WalletSet struct {
	mu      sync.RWMutex
	wallets map[common.Address]Wallet
}

// NewWalletSet indexes wallets by address.
func NewWalletSet(wallets ...Wallet) *WalletSet {
	s := &WalletSet{wallets: make(map[common.Address]Wallet)}
	for _, w := range wallets {
		s.Add(w)
	}
	return s
}

// Add registers or replaces a wallet.
func (s *WalletSet) Add(w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.Address()] = w
}

// Get returns the wallet for addr or an InvalidInput error if it is not
// connected.
func (s *WalletSet) Get(addr common.Address) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[addr]
	if !ok {
		return nil, errs.Reasonf(errs.KindInvalidInput, "resolve wallet", "wallet %s is not connected", addr.Hex())
	}
	return w, nil
}

// Addresses lists the connected wallets.
func (s *WalletSet) Addresses() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.wallets))
	for addr := range s.wallets {
		out = append(out, addr)
	}
	return out
}
