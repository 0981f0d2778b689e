// papertrade runs the stock-trading simulator headlessly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atmx/papertrade/internal/config"
	"github.com/atmx/papertrade/internal/market"
	"github.com/atmx/papertrade/internal/model"
	"github.com/atmx/papertrade/internal/sim"
	"github.com/atmx/papertrade/internal/store"
	"github.com/atmx/papertrade/internal/trade"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papertrade",
		Short: "Toy stock-trading simulator",
		Long: `papertrade simulates a small market of randomly walking securities
and a single trader's portfolio with stop-loss orders.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PAPERTRADE_CONFIG"), "Path to YAML config file")

	root.AddCommand(runCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "papertrade version %s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// runOptions are the flags of the run command.
type runOptions struct {
	ticks    int
	seed     uint64
	next     int
	buy      int64
	stopLoss string
	journal  string
}

// runReport is what run prints.
type runReport struct {
	Session   *model.Session          `json:"session"`
	Market    model.MarketSnapshot    `json:"market"`
	Portfolio model.PortfolioSnapshot `json:"portfolio"`
	Ledger    []model.LedgerEntry     `json:"ledger"`
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance the simulation headlessly and print the result",
		Long: `Run builds the configured market, optionally buys shares of one
security, advances the given number of ticks and prints the final market,
portfolio and trade journal as JSON.

Example:
  papertrade run --ticks 50 --buy 5 --stop-loss 95
  papertrade run --ticks 20 --next 2 --buy 1 --journal trades.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed = opts.seed
			}
			if opts.journal != "" {
				cfg.Storage.SQLitePath = opts.journal
			}
			return runSimulation(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVarP(&opts.ticks, "ticks", "n", 10, "Number of ticks to advance")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Random seed (default: from config)")
	cmd.Flags().IntVar(&opts.next, "next", 0, "Move the market selection forward this many times before buying")
	cmd.Flags().Int64Var(&opts.buy, "buy", 0, "Shares of the selected security to buy before the first tick")
	cmd.Flags().StringVar(&opts.stopLoss, "stop-loss", "", "Absolute stop-loss price for the bought holding")
	cmd.Flags().StringVar(&opts.journal, "journal", "", "SQLite file to journal trades to (default: in memory)")

	return cmd
}

func runSimulation(ctx context.Context, cfg *config.Config, opts runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ticks < 0 {
		return fmt.Errorf("ticks cannot be negative: %d", opts.ticks)
	}

	var stopLoss *decimal.Decimal
	if opts.stopLoss != "" {
		sl, err := decimal.NewFromString(opts.stopLoss)
		if err != nil {
			return fmt.Errorf("invalid stop-loss %q: %w", opts.stopLoss, err)
		}
		stopLoss = &sl
	}

	logger := cfg.Logging.NewLogger(stderr)

	var st store.Store = store.NewMemoryStore()
	if cfg.Storage.SQLitePath != "" {
		sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer sq.Close()
		st = sq
	}

	simCfg := cfg.SimConfig()
	ctrl, err := sim.New(simCfg, market.NewRandSource(cfg.Simulation.Seed), logger)
	if err != nil {
		return err
	}
	session, err := trade.StartSession(ctx, st, simCfg.Trader, simCfg.StartingCash, cfg.Simulation.Seed)
	if err != nil {
		return err
	}
	svc := trade.NewService(ctrl, st, session, nil)

	for i := 0; i < opts.next; i++ {
		ctrl.SelectMarket(market.Next)
	}
	if opts.buy != 0 {
		if _, err := ctrl.Buy(opts.buy, stopLoss); err != nil {
			svc.Flush(ctx)
			return fmt.Errorf("buy rejected: %w", err)
		}
		svc.Flush(ctx)
	}

	for i := 0; i < opts.ticks; i++ {
		svc.Step(ctx)
	}

	entries, err := st.GetLedgerEntriesBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runReport{
		Session:   session,
		Market:    ctrl.MarketSnapshot(),
		Portfolio: ctrl.PortfolioSnapshot(),
		Ledger:    entries,
	})
}
