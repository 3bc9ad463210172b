package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
env: test
server:
  port: 9090
registry:
  backend: pebble
  pebble_dir: /tmp/registry
chain:
  chain_id: "8453"
  name: base
  rpc_endpoint: https://rpc.example
  receipt_timeout: 90s
wallets:
  private_keys:
    - "0xaaaa"
creator_token:
  bytecode: "0x6080"
campaigns:
  Launch:
    minimum_stake_units: "10000000000"
    staking_contract_address: "0x2000000000000000000000000000000000000002"
    token_contract_address: "0x1000000000000000000000000000000000000001"
    stake_basis: Combined
    require_minimum_stake: true
  creators:
    token_contract_address: "0x1000000000000000000000000000000000000001"
    require_membership: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendPebble, cfg.Registry.Backend)
	assert.Equal(t, 90*time.Second, cfg.Chain.ReceiptTimeout)
	assert.Equal(t, 2*time.Second, cfg.Chain.PollInterval, "default applies")
	assert.Equal(t, []string{"0xaaaa"}, cfg.Wallets.PrivateKeys)

	launch, ok := cfg.Campaign("LAUNCH")
	require.True(t, ok, "campaign ids are case-insensitive")
	assert.Equal(t, "launch", launch.ID)
	assert.Equal(t, "8453", launch.ChainID, "campaigns inherit the chain id")
	assert.Equal(t, StakeBasisCombined, launch.StakeBasis)
	assert.True(t, launch.RequireMinimumStake)

	creators, ok := cfg.Campaign("creators")
	require.True(t, ok)
	assert.Equal(t, StakeBasisBalance, creators.StakeBasis)
	assert.Equal(t, "0", creators.MinimumStakeUnits)
	assert.True(t, creators.RequireMembership)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("REGISTRY_BACKEND", "MEMORY")
	t.Setenv("WALLET_PRIVATE_KEYS", "0x01, 0x02,,")
	t.Setenv("CAMPAIGN_ID", "Airdrop")
	t.Setenv("CAMPAIGN_TOKEN_CONTRACT", "0x1000000000000000000000000000000000000001")
	t.Setenv("CAMPAIGN_MINIMUM_STAKE_UNITS", "5")

	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Registry.Backend)
	assert.Equal(t, []string{"0x01", "0x02"}, cfg.Wallets.PrivateKeys)

	airdrop, ok := cfg.Campaign("airdrop")
	require.True(t, ok)
	assert.Equal(t, "5", airdrop.MinimumStakeUnits)
	assert.True(t, airdrop.RequireMinimumStake)
	assert.Len(t, cfg.Campaigns, 3)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server:       ServerConfig{Port: 8080},
		Registry:     RegistryConfig{Backend: BackendMemory},
		Chain:        ChainConfig{ChainID: "1", RPCEndpoint: "http://node", ReceiptTimeout: time.Minute, PollInterval: time.Second},
		Wallets:      WalletConfig{PrivateKeys: []string{"0x01"}},
		CreatorToken: CreatorTokenConfig{Bytecode: "0x6080"},
		Campaigns: map[string]CampaignConfig{
			"launch": {
				ChainID:              "1",
				MinimumStakeUnits:    "0",
				TokenContractAddress: "0x1000000000000000000000000000000000000001",
				StakeBasis:           StakeBasisBalance,
			},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"unknown backend", func(c *Config) { c.Registry.Backend = "redis" }, "unknown registry backend"},
		{"postgres without host", func(c *Config) { c.Registry.Backend = BackendPostgres }, "database host"},
		{"pebble without dir", func(c *Config) { c.Registry.Backend = BackendPebble }, "pebble directory"},
		{"no rpc", func(c *Config) { c.Chain.RPCEndpoint = "" }, "RPC endpoint"},
		{"bad chain id", func(c *Config) { c.Chain.ChainID = "mainnet" }, "invalid chain id"},
		{"no wallets", func(c *Config) { c.Wallets = WalletConfig{} }, "wallet"},
		{"external signer only", func(c *Config) { c.Wallets = WalletConfig{ExternalSignerURL: "http://clef"} }, ""},
		{"no bytecode", func(c *Config) { c.CreatorToken.Bytecode = "" }, "bytecode"},
		{"no campaigns", func(c *Config) { c.Campaigns = nil }, "at least one campaign"},
		{"campaign on other chain", func(c *Config) {
			camp := c.Campaigns["launch"]
			camp.ChainID = "2"
			c.Campaigns["launch"] = camp
		}, "does not match"},
		{"bad token address", func(c *Config) {
			camp := c.Campaigns["launch"]
			camp.TokenContractAddress = "0x123"
			c.Campaigns["launch"] = camp
		}, "token contract"},
		{"negative minimum", func(c *Config) {
			camp := c.Campaigns["launch"]
			camp.MinimumStakeUnits = "-1"
			c.Campaigns["launch"] = camp
		}, "non-negative"},
		{"staked basis without pool", func(c *Config) {
			camp := c.Campaigns["launch"]
			camp.StakeBasis = StakeBasisStaked
			c.Campaigns["launch"] = camp
		}, "needs a staking contract"},
		{"unknown basis", func(c *Config) {
			camp := c.Campaigns["launch"]
			camp.StakeBasis = "vibes"
			c.Campaigns["launch"] = camp
		}, "unknown stake basis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
