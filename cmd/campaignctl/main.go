// Command campaignctl is the operator CLI for campaign data: leaderboard
// imports, one-off eligibility checks, claim listings and deployment
// reconciliation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"airdrop/offchain/internal/app"
	"airdrop/offchain/internal/blockchain/evm"
	"airdrop/offchain/internal/config"
	"airdrop/offchain/internal/registry"
	"airdrop/offchain/internal/service"
)

type cli struct {
	configFile string
	timeout    time.Duration
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "campaignctl",
		Short:         "Operate campaign claims, leaderboards and creator tokens",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "overall command timeout")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	members := &cobra.Command{Use: "members", Short: "Manage campaign leaderboards"}
	members.AddCommand(c.membersImportCmd())

	claims := &cobra.Command{Use: "claims", Short: "Inspect submitted claims"}
	claims.AddCommand(c.claimsListCmd())

	root.AddCommand(members, claims, c.eligibilityCmd(), c.reconcileCmd())
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if c.verbose {
		c.logger, err = zap.NewDevelopment()
	} else {
		c.logger, err = app.NewLogger(cfg.Env)
	}
	return err
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// offline opens only the registry; commands that never touch the chain use
// it so they work without an RPC endpoint.
func (c *cli) offline() (registry.Registry, *service.ClaimService, func(), error) {
	reg, closeReg, err := app.OpenRegistry(c.cfg, c.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	campaigns, err := service.NewCampaigns(c.cfg.Campaigns)
	if err != nil {
		_ = closeReg()
		return nil, nil, nil, err
	}
	claims := service.NewClaimService(reg, nil, campaigns, c.logger)
	return reg, claims, func() { _ = closeReg() }, nil
}

func (c *cli) membersImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <campaign> <csv-file>",
		Short: "Import leaderboard entries (identity_key,display_name,points)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[1], err)
			}
			defer f.Close()

			entries, err := readMembers(f)
			if err != nil {
				return err
			}

			_, claims, done, err := c.offline()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := c.context(cmd)
			defer cancel()
			n, err := claims.ImportMembers(ctx, args[0], entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d members into %s\n", n, args[0])
			return nil
		},
	}
}

func (c *cli) claimsListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <campaign>",
		Short: "List claims for a campaign, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, claims, done, err := c.offline()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := c.context(cmd)
			defer cancel()
			records, err := claims.ListClaims(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tWALLET\tSTAKE_UNITS\tTOKEN\tCREATED")
			for _, r := range records {
				token := "-"
				if r.TokenSymbol != nil {
					token = *r.TokenSymbol
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.IdentityKey, r.WalletAddress, r.StakedBalanceAtSubmission, token, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum claims to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "claims to skip")
	return cmd
}

func (c *cli) eligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <campaign> <identity-key> <wallet>",
		Short: "Evaluate stake and membership eligibility without submitting a claim",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := evm.ParseAddress(args[2])
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			services, err := app.Build(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer services.Close()

			decision, err := services.Verifier.Evaluate(ctx, args[1], args[0], wallet)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one deploy-intent reconciliation pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			services, err := app.Build(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer services.Close()

			summary, err := services.Workers.Reconciler().RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d: completed %d, abandoned %d, pending %d, failed %d\n",
				summary.Scanned, summary.Completed, summary.Abandoned, summary.Pending, summary.Failed)
			return nil
		},
	}
}
