package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"airdrop/offchain/internal/errs"
)

func TestWalletLocks(t *testing.T) {
	locks := NewWalletLocks()
	a, b := common.Address{1}, common.Address{2}

	release, err := locks.TryAcquire(a, "stake")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := locks.TryAcquire(a, "deploy"); !errors.Is(err, errs.ErrAlreadyInProgress) {
		t.Fatalf("second acquire error = %v, want already in progress", err)
	}
	if _, err := locks.TryAcquire(b, "deploy"); err != nil {
		t.Fatalf("other wallets are independent: %v", err)
	}

	release()
	release()
	if _, held := locks.Holder(a); held {
		t.Fatal("lock still held after release")
	}
}

func TestIdentityLocks(t *testing.T) {
	locks := NewWalletLocks()

	release, err := locks.TryAcquireIdentity("twitter:alice", "deploy")
	if err != nil {
		t.Fatalf("TryAcquireIdentity: %v", err)
	}
	if _, err := locks.TryAcquireIdentity("twitter:alice", "deploy"); !errors.Is(err, errs.ErrAlreadyInProgress) {
		t.Fatalf("second identity acquire error = %v, want already in progress", err)
	}
	if _, err := locks.TryAcquireIdentity("twitter:bob", "deploy"); err != nil {
		t.Fatalf("other identities are independent: %v", err)
	}
	if _, err := locks.TryAcquire(common.Address{1}, "stake"); err != nil {
		t.Fatalf("identity and wallet locks do not collide: %v", err)
	}

	release()
	if _, err := locks.TryAcquireIdentity("twitter:alice", "deploy"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestWalletLocksExclusive(t *testing.T) {
	locks := NewWalletLocks()
	addr := common.Address{7}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locks.TryAcquire(addr, "stake"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d goroutines acquired the lock, want 1", wins)
	}
}
