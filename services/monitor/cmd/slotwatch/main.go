package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"slotwatch/pkg/metrics"
	"slotwatch/pkg/telemetry"
	"slotwatch/pkg/transport"
	"slotwatch/services/monitor/internal/config"
	"slotwatch/services/sellerapi"
)

const serviceName = "slotwatch"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "slotwatch",
		Short:         "Watch supply order timeslots on the seller API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			} else {
				_ = godotenv.Load()
			}

			cfg, err := config.Load(commandContext(cmd), opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("SLOTWATCH_CONFIG"), "Optional YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Env file to load (default .env when present)")

	cmd.AddCommand(newOrdersCommand(opts))
	cmd.AddCommand(newSlotsCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newTailCommand(opts))
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newOrdersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Supply order operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		limit  int
		fromID int64
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List supply orders in the data filling state",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := consoleLogger(opts.cfg)
			client, err := newSellerClient(opts.cfg, logger, nil)
			if err != nil {
				return err
			}
			page, err := client.ListOrders(commandContext(cmd), limit, fromID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	list.Flags().IntVar(&limit, "limit", sellerapi.MaxOrdersPerRequest, "Orders per page (max 100)")
	list.Flags().Int64Var(&fromID, "from-id", 0, "First supply order id of the page")

	cmd.AddCommand(list)
	return cmd
}

func newSlotsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Timeslot operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		ids      []int64
		rps      float64
		from, to string
	)
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch timeslots for supply orders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				ids = opts.cfg.Monitor.OrderIDs
			}
			if len(ids) == 0 {
				return fmt.Errorf("--ids or SLOTWATCH_ORDER_IDS is required")
			}
			if !cmd.Flags().Changed("rps") {
				rps = opts.cfg.Monitor.RPS
			}

			logger := consoleLogger(opts.cfg)
			client, err := newSellerClient(opts.cfg, logger, nil)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			var results any
			if from != "" || to != "" {
				results, err = client.FetchSlotsInRanges(ctx, ids, rps, from, to)
			} else {
				results, err = client.FetchSlots(ctx, ids, rps)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	fetch.Flags().Int64SliceVar(&ids, "ids", nil, "Supply order ids")
	fetch.Flags().Float64Var(&rps, "rps", sellerapi.DefaultRPS, "Requests per second")
	fetch.Flags().StringVar(&from, "from", "", "Keep slots ending at or after this time")
	fetch.Flags().StringVar(&to, "to", "", "Keep slots starting at or before this time")

	cmd.AddCommand(fetch)
	return cmd
}

func newSellerClient(cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) (*sellerapi.Client, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	httpClient, err := transport.NewHTTPClient(transport.Options{
		Timeout:      cfg.HTTPTimeout,
		DisableHTTP2: cfg.DisableHTTP2,
	})
	if err != nil {
		return nil, err
	}
	client, err := sellerapi.New(sellerapi.NewHTTPTransport(httpClient),
		sellerapi.WithBaseURL(cfg.BaseURL),
		sellerapi.WithLogger(logger),
		sellerapi.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	if err := client.SetAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}
	if err := client.SetClientID(cfg.ClientID); err != nil {
		return nil, err
	}
	return client, nil
}

func consoleLogger(cfg config.Config) zerolog.Logger {
	return telemetry.ConsoleLogger(os.Stderr, cfg.Level())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
