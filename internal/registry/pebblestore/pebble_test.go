package pebblestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"airdrop/offchain/internal/models"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/registry/registrytest"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWithOptions("registry", &pebble.Options{FS: vfs.NewMem()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegistryContract(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Registry { return newMemStore(t) })
}

func TestReopenKeepsClaims(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	ok, err := s.PutClaimIfAbsent(ctx, &models.ClaimRecord{IdentityKey: "a", CampaignID: "c", WalletAddress: "0x1"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	s, err = Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetClaim(ctx, "a", "c")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "0x1", got.WalletAddress)

	ok, err = s.PutClaimIfAbsent(ctx, &models.ClaimRecord{IdentityKey: "a", CampaignID: "c", WalletAddress: "0x2"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCampaignPrefixIsolation(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	// "camp-1" is a byte prefix of "camp-10"; listings must not bleed.
	_, err := s.PutClaimIfAbsent(ctx, &models.ClaimRecord{IdentityKey: "a", CampaignID: "camp-1"})
	require.NoError(t, err)
	_, err = s.PutClaimIfAbsent(ctx, &models.ClaimRecord{IdentityKey: "b", CampaignID: "camp-10"})
	require.NoError(t, err)

	list, err := s.ListClaims(ctx, "camp-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "a", list[0].IdentityKey)
}
