package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"airdrop/offchain/internal/errs"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"uppercase body", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", false},
		{"surrounding space", "  0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ", false},
		{"bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", true},
		{"missing prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"too short", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea", true},
		{"not hex", "0xzzzeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"zero", "0x0000000000000000000000000000000000000000", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, errs.ErrInvalidInput) {
					t.Fatalf("ParseAddress(%q) error = %v, want invalid input", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) unexpected error: %v", tt.input, err)
			}
			want := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
			if addr != want {
				t.Errorf("got %s, want %s", addr.Hex(), want.Hex())
			}
		})
	}
}

func TestKeyWallet(t *testing.T) {
	// Well-known development key; never funded outside local chains.
	const key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	w, err := NewKeyWallet(key, big.NewInt(31337))
	if err != nil {
		t.Fatalf("NewKeyWallet: %v", err)
	}
	if got := w.Address().Hex(); got != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("address = %s", got)
	}

	tx := types.NewTransaction(0, common.Address{1}, big.NewInt(0), 21000, big.NewInt(1), nil)
	signed, err := w.SignTx(context.Background(), tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(31337)), signed)
	if err != nil || sender != w.Address() {
		t.Fatalf("sender = %s, %v", sender.Hex(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.SignTx(ctx, tx); err == nil {
		t.Errorf("signing with a canceled context should fail")
	}

	if _, err := NewKeyWallet("0xnothex", big.NewInt(1)); err == nil {
		t.Errorf("expected error for malformed key")
	}
}

func TestWalletSet(t *testing.T) {
	w := testWallet(t, 31337)
	set := NewWalletSet(w)

	got, err := set.Get(w.Address())
	if err != nil || got.Address() != w.Address() {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := set.Get(common.Address{9}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("unknown wallet error = %v", err)
	}
	if n := len(set.Addresses()); n != 1 {
		t.Errorf("Addresses() len = %d", n)
	}
}
