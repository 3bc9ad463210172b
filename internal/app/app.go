// Package app wires configuration, persistence, the chain gateway and the
// campaign workflows into one object shared by the server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/database"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/registry/memory"
	"airdrop/offchain/internal/registry/pebblestore"
	"airdrop/offchain/internal/service"
	"airdrop/offchain/internal/worker"
)

// App holds the long-lived service graph.
type App struct {
	Config    *config.Config
	Registry  registry.Registry
	Client    *evm.Client
	Wallets   *evm.WalletSet
	Campaigns *service.Campaigns
	Verifier  *service.EligibilityVerifier
	Staking   *service.StakingWorkflow
	Creator   *service.CreatorTokenWorkflow
	Claims    *service.ClaimService
	Workers   *worker.WorkerManager

	logger  *zap.Logger
	closers []func() error
}

// NewLogger builds the production logger in production and the development
// logger everywhere else.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// OpenRegistry opens the configured registry backend. The returned close
// function releases it.
func OpenRegistry(cfg *config.Config, logger *zap.Logger) (registry.Registry, func() error, error) {
	switch cfg.Registry.Backend {
	case config.BackendPostgres:
		db, err := database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Database connected and migrated",
			zap.String("db_host", cfg.Database.Host),
			zap.String("db_name", cfg.Database.DBName))
		return db, db.Close, nil

	case config.BackendPebble:
		store, err := pebblestore.Open(cfg.Registry.PebbleDir, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Pebble registry opened", zap.String("dir", cfg.Registry.PebbleDir))
		return store, store.Close, nil

	case config.BackendMemory:
		logger.Warn("Using in-memory registry; claims are lost on restart")
		return memory.New(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

// LoadWallets builds the wallet set from configured keys and the external
// signer, if any.
func LoadWallets(cfg *config.Config) (*evm.WalletSet, error) {
	chainID := cfg.Chain.ChainIDBig()
	set := evm.NewWalletSet()

	for i, key := range cfg.Wallets.PrivateKeys {
		w, err := evm.NewKeyWallet(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("wallet private key #%d: %w", i+1, err)
		}
		set.Add(w)
	}

	if cfg.Wallets.ExternalSignerURL != "" {
		external, err := evm.ExternalWallets(cfg.Wallets.ExternalSignerURL, chainID)
		if err != nil {
			return nil, err
		}
		for _, w := range external {
			set.Add(w)
		}
	}

	return set, nil
}

// Build dials the chain, opens the registry and constructs the workflows.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	reg, closeReg, err := OpenRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	a.Registry = reg
	a.closers = append(a.closers, closeReg)

	client, err := evm.NewClient(ctx, cfg.Chain, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}
	a.Client = client
	a.closers = append(a.closers, func() error { client.Close(); return nil })

	logger.Info("Chain client initialized",
		zap.String("chain_id", cfg.Chain.ChainID),
		zap.String("chain_name", cfg.Chain.Name))

	wallets, err := LoadWallets(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Wallets = wallets

	campaigns, err := service.NewCampaigns(cfg.Campaigns)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Campaigns = campaigns

	contracts := evm.NewContracts(client, logger)
	factory, err := contracts.CreatorTokens(cfg.CreatorToken.Bytecode)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load creator token bytecode: %w", err)
	}

	policy := service.DefaultRetryPolicy(cfg.Chain.MaxRetries)
	locks := service.NewWalletLocks()

	a.Verifier = service.NewEligibilityVerifier(contracts, campaigns, reg, policy, logger)
	a.Staking = service.NewStakingWorkflow(contracts, campaigns, reg, locks, policy, logger)
	a.Creator = service.NewCreatorTokenWorkflow(contracts, factory, a.Verifier, reg, locks, policy, logger)
	a.Claims = service.NewClaimService(reg, a.Verifier, campaigns, logger)
	a.Workers = worker.NewWorkerManager(reg, a.Creator, cfg.Reconciler, logger)

	logger.Info("Services initialized",
		zap.Strings("campaigns", campaigns.IDs()),
		zap.Int("wallets", len(wallets.Addresses())))

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
