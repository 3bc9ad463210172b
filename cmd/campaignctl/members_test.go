package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMembers(t *testing.T) {
	in := "points,identity_key,display_name,extra\n" +
		"40, twitter:alice ,Alice,x\n" +
		"10,twitter:bob,\"Bob, Jr.\",y\n"

	members, err := readMembers(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "twitter:alice", members[0].IdentityKey)
	assert.Equal(t, int64(40), members[0].Points)
	assert.Equal(t, "Bob, Jr.", members[1].DisplayName)
}

func TestReadMembersErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty"},
		{"missing column", "identity_key,display_name\nalice,Alice\n", `missing column "points"`},
		{"bad points", "identity_key,points\nalice,lots\n", "line 2"},
		{"negative points", "identity_key,points\nalice,-1\n", "invalid points"},
		{"blank identity", "identity_key,points\n,3\n", "identity_key is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readMembers(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMembersImportCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
registry:
  backend: memory
chain:
  chain_id: "31337"
  rpc_endpoint: http://127.0.0.1:8545
wallets:
  private_keys: ["0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"]
creator_token:
  bytecode: "0x6080"
campaigns:
  creators:
    token_contract_address: "0x1000000000000000000000000000000000000001"
`), 0o600))
	csvPath := filepath.Join(dir, "members.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("identity_key,display_name,points\ntwitter:alice,Alice,5\n"), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "members", "import", "creators", csvPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "imported 1 members into creators")
}
