package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"airdrop/offchain/internal/errs"
)

// WalletLocks gives each wallet at most one in-flight workflow in this
// process. A busy wallet is rejected, never queued: the holder owns the
// wallet's nonce sequence until it finishes. Identities are locked in the
// same table so one identity never has two deployments in flight.
type WalletLocks struct {
	mu   sync.Mutex
	held map[string]string
}

// NewWalletLocks creates an empty lock table.
func NewWalletLocks() *WalletLocks {
	return &WalletLocks{held: make(map[string]string)}
}

func walletLockKey(addr common.Address) string { return "wallet:" + addr.Hex() }

func identityLockKey(identityKey string) string { return "identity:" + identityKey }

// TryAcquire takes the lock for addr on behalf of op. The returned release
// func is idempotent.
func (l *WalletLocks) TryAcquire(addr common.Address, op string) (func(), error) {
	return l.acquire(walletLockKey(addr), "wallet "+addr.Hex(), op)
}

// TryAcquireIdentity takes the lock for an identity on behalf of op.
func (l *WalletLocks) TryAcquireIdentity(identityKey, op string) (func(), error) {
	return l.acquire(identityLockKey(identityKey), "identity "+identityKey, op)
}

func (l *WalletLocks) acquire(key, label, op string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, busy := l.held[key]; busy {
		return nil, errs.Reasonf(errs.KindAlreadyInProgress, op, "%s is busy with %s", label, holder)
	}
	l.held[key] = op

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Holder reports which operation holds addr, if any.
func (l *WalletLocks) Holder(addr common.Address) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.held[walletLockKey(addr)]
	return op, ok
}
