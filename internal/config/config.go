package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Registry backends
const (
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendMemory   = "memory"
)

// Stake bases decide which on-chain amount is compared against a campaign minimum
const (
	StakeBasisBalance  = "balance"
	StakeBasisStaked   = "staked"
	StakeBasisCombined = "combined"
)

// Config holds all configuration for the service
type Config struct {
	Env          string
	Server       ServerConfig
	Database     DatabaseConfig
	Registry     RegistryConfig
	Chain        ChainConfig
	Wallets      WalletConfig
	CreatorToken CreatorTokenConfig
	Reconciler   ReconcilerConfig
	Campaigns    map[string]CampaignConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	CORSOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RegistryConfig selects where claims and deployments are persisted
type RegistryConfig struct {
	Backend   string // postgres | pebble | memory
	PebbleDir string
}

// ChainConfig holds configuration for the EVM chain all campaigns run on
type ChainConfig struct {
	ChainID        string
	Name           string
	RPCEndpoint    string
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	MaxRetries     int // connectivity retries per chain call
	GasBufferPct   int // added on top of eth_estimateGas
}

// ChainIDBig returns the chain id as a big.Int
func (c ChainConfig) ChainIDBig() *big.Int {
	id, _ := new(big.Int).SetString(c.ChainID, 10)
	return id
}

// WalletConfig lists the signers the service may act for
type WalletConfig struct {
	PrivateKeys       []string // hex ECDSA keys for server-held wallets
	ExternalSignerURL string   // clef-compatible endpoint, optional
}

// CreatorTokenConfig holds the creator-token contract artefacts
type CreatorTokenConfig struct {
	Bytecode string // hex creation code without constructor args
}

// ReconcilerConfig controls the deploy-intent reconciliation worker
type ReconcilerConfig struct {
	Enabled   bool
	Interval  time.Duration
	IntentTTL time.Duration
	BatchSize int
}

// CampaignConfig is the per-campaign eligibility and contract configuration
type CampaignConfig struct {
	ID                     string `mapstructure:"-"`
	ChainID                string `mapstructure:"chain_id"`
	MinimumStakeUnits      string `mapstructure:"minimum_stake_units"` // smallest units, base 10
	StakingContractAddress string `mapstructure:"staking_contract_address"`
	TokenContractAddress   string `mapstructure:"token_contract_address"`
	StakeBasis             string `mapstructure:"stake_basis"`
	RequireMembership      bool   `mapstructure:"require_membership"`
	RequireMinimumStake    bool   `mapstructure:"require_minimum_stake"`
}

// LoadConfig loads configuration from the file named by CONFIG_FILE (if any)
// overlaid with environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads an optional YAML file at path and applies environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("env"),
		Server: ServerConfig{
			Port:        v.GetInt("server.port"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			SSLMode:  v.GetString("database.ssl_mode"),
		},
		Registry: RegistryConfig{
			Backend:   strings.ToLower(v.GetString("registry.backend")),
			PebbleDir: v.GetString("registry.pebble_dir"),
		},
		Chain: ChainConfig{
			ChainID:        v.GetString("chain.chain_id"),
			Name:           v.GetString("chain.name"),
			RPCEndpoint:    v.GetString("chain.rpc_endpoint"),
			ReceiptTimeout: v.GetDuration("chain.receipt_timeout"),
			PollInterval:   v.GetDuration("chain.poll_interval"),
			MaxRetries:     v.GetInt("chain.max_retries"),
			GasBufferPct:   v.GetInt("chain.gas_buffer_pct"),
		},
		Wallets: WalletConfig{
			PrivateKeys:       splitAndTrim(v.GetStringSlice("wallets.private_keys")),
			ExternalSignerURL: v.GetString("wallets.external_signer_url"),
		},
		CreatorToken: CreatorTokenConfig{
			Bytecode: v.GetString("creator_token.bytecode"),
		},
		Reconciler: ReconcilerConfig{
			Enabled:   v.GetBool("reconciler.enabled"),
			Interval:  v.GetDuration("reconciler.interval"),
			IntentTTL: v.GetDuration("reconciler.intent_ttl"),
			BatchSize: v.GetInt("reconciler.batch_size"),
		},
	}

	campaigns, err := loadCampaigns(v, cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	cfg.Campaigns = campaigns

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "campaigns")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("registry.backend", BackendPostgres)
	v.SetDefault("registry.pebble_dir", "./data/registry")
	v.SetDefault("chain.receipt_timeout", 5*time.Minute)
	v.SetDefault("chain.poll_interval", 2*time.Second)
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.gas_buffer_pct", 20)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", 30*time.Second)
	v.SetDefault("reconciler.intent_ttl", 24*time.Hour)
	v.SetDefault("reconciler.batch_size", 50)
}

// bindEnv keeps the flat environment names used by existing deployments
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"env":                         "ENV",
		"server.port":                 "SERVER_PORT",
		"server.cors_origins":         "CORS_ORIGINS",
		"database.host":               "DB_HOST",
		"database.port":               "DB_PORT",
		"database.user":               "DB_USER",
		"database.password":           "DB_PASSWORD",
		"database.name":               "DB_NAME",
		"database.ssl_mode":           "DB_SSL_MODE",
		"registry.backend":            "REGISTRY_BACKEND",
		"registry.pebble_dir":         "PEBBLE_DIR",
		"chain.chain_id":              "CHAIN_ID",
		"chain.name":                  "CHAIN_NAME",
		"chain.rpc_endpoint":          "ETH_RPC_ENDPOINT",
		"chain.receipt_timeout":       "RECEIPT_TIMEOUT",
		"chain.poll_interval":         "RECEIPT_POLL_INTERVAL",
		"chain.max_retries":           "CHAIN_MAX_RETRIES",
		"chain.gas_buffer_pct":        "GAS_BUFFER_PCT",
		"wallets.private_keys":        "WALLET_PRIVATE_KEYS",
		"wallets.external_signer_url": "EXTERNAL_SIGNER_URL",
		"creator_token.bytecode":      "CREATOR_TOKEN_BYTECODE",
		"reconciler.enabled":          "RECONCILER_ENABLED",
		"reconciler.interval":         "RECONCILER_INTERVAL",
		"reconciler.intent_ttl":       "DEPLOY_INTENT_TTL",
		"reconciler.batch_size":       "RECONCILER_BATCH_SIZE",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

// loadCampaigns reads campaigns.<id>.* from the file. A single campaign can
// also be supplied through CAMPAIGN_* variables for container deployments.
func loadCampaigns(v *viper.Viper, chainID string) (map[string]CampaignConfig, error) {
	campaigns := make(map[string]CampaignConfig)
	if v.IsSet("campaigns") {
		if err := v.UnmarshalKey("campaigns", &campaigns); err != nil {
			return nil, fmt.Errorf("failed to parse campaigns: %w", err)
		}
	}

	if id := os.Getenv("CAMPAIGN_ID"); id != "" {
		campaigns[strings.ToLower(id)] = CampaignConfig{
			ChainID:                os.Getenv("CAMPAIGN_CHAIN_ID"),
			MinimumStakeUnits:      os.Getenv("CAMPAIGN_MINIMUM_STAKE_UNITS"),
			StakingContractAddress: os.Getenv("CAMPAIGN_STAKING_CONTRACT"),
			TokenContractAddress:   os.Getenv("CAMPAIGN_TOKEN_CONTRACT"),
			StakeBasis:             os.Getenv("CAMPAIGN_STAKE_BASIS"),
			RequireMembership:      os.Getenv("CAMPAIGN_REQUIRE_MEMBERSHIP") == "true",
			RequireMinimumStake:    os.Getenv("CAMPAIGN_REQUIRE_MINIMUM_STAKE") != "false",
		}
	}

	for id, c := range campaigns {
		c.ID = id
		if c.ChainID == "" {
			c.ChainID = chainID
		}
		if c.StakeBasis == "" {
			c.StakeBasis = StakeBasisBalance
		}
		if c.MinimumStakeUnits == "" {
			c.MinimumStakeUnits = "0"
		}
		c.StakeBasis = strings.ToLower(c.StakeBasis)
		campaigns[id] = c
	}
	return campaigns, nil
}

// Campaign returns the configuration for id. Campaign ids are case-insensitive
// because viper lower-cases map keys.
func (c *Config) Campaign(id string) (CampaignConfig, bool) {
	camp, ok := c.Campaigns[strings.ToLower(id)]
	return camp, ok
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Registry.Backend {
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case BackendPebble:
		if c.Registry.PebbleDir == "" {
			return fmt.Errorf("pebble directory is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}

	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("chain RPC endpoint is required")
	}
	if id := c.Chain.ChainIDBig(); id == nil || id.Sign() <= 0 {
		return fmt.Errorf("invalid chain id %q", c.Chain.ChainID)
	}
	if c.Chain.ReceiptTimeout <= 0 || c.Chain.PollInterval <= 0 {
		return fmt.Errorf("receipt timeout and poll interval must be positive")
	}
	if c.Chain.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", c.Chain.MaxRetries)
	}

	if len(c.Wallets.PrivateKeys) == 0 && c.Wallets.ExternalSignerURL == "" {
		return fmt.Errorf("at least one wallet private key or an external signer is required")
	}

	if c.CreatorToken.Bytecode == "" {
		return fmt.Errorf("creator token bytecode is required")
	}

	if len(c.Campaigns) == 0 {
		return fmt.Errorf("at least one campaign must be configured")
	}
	for id, camp := range c.Campaigns {
		if err := camp.validate(c.Chain.ChainID); err != nil {
			return fmt.Errorf("campaign %s: %w", id, err)
		}
	}

	return nil
}

func (c CampaignConfig) validate(chainID string) error {
	if c.ChainID != chainID {
		return fmt.Errorf("chain id %s does not match configured chain %s", c.ChainID, chainID)
	}
	if !common.IsHexAddress(c.TokenContractAddress) {
		return fmt.Errorf("invalid token contract address %q", c.TokenContractAddress)
	}
	if c.StakingContractAddress != "" && !common.IsHexAddress(c.StakingContractAddress) {
		return fmt.Errorf("invalid staking contract address %q", c.StakingContractAddress)
	}
	if minimum, ok := new(big.Int).SetString(c.MinimumStakeUnits, 10); !ok || minimum.Sign() < 0 {
		return fmt.Errorf("minimum stake units must be a non-negative integer, got %q", c.MinimumStakeUnits)
	}
	switch c.StakeBasis {
	case StakeBasisBalance, StakeBasisCombined:
	case StakeBasisStaked:
		if c.StakingContractAddress == "" {
			return fmt.Errorf("stake basis %q needs a staking contract", c.StakeBasis)
		}
	default:
		return fmt.Errorf("unknown stake basis %q", c.StakeBasis)
	}
	return nil
}

// splitAndTrim flattens comma-separated entries and drops empties
func splitAndTrim(values []string) []string {
	var parts []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	return parts
}
