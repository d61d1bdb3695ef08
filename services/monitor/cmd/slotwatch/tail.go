package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"slotwatch/pkg/bus"
	"slotwatch/services/timeslots"
)

func newTailCommand(opts *rootOptions) *cobra.Command {
	var (
		natsURL string
		durable string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print timeslot changes published by a running watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("nats-url") && opts.cfg.NATSURL != "" {
				natsURL = opts.cfg.NATSURL
			}
			if natsURL == "" {
				return fmt.Errorf("--nats-url or NATS_URL is required")
			}

			b, err := bus.New(natsURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			if err := b.EnsureStream(bus.StreamName, streamMaxAge, bus.DiffSubject); err != nil {
				return fmt.Errorf("ensure stream: %w", err)
			}

			ctx := commandContext(cmd)
			sub, err := b.Subscribe(ctx, bus.DiffSubject, durable, func(_ context.Context, data []byte) error {
				return printEntry(cmd.OutOrStdout(), data)
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL")
	cmd.Flags().StringVar(&durable, "durable", "slotwatch-tail", "Durable consumer name")
	return cmd
}

func printEntry(w io.Writer, data []byte) error {
	var entry timeslots.DiffEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("decode change: %w", err)
	}
	for _, s := range entry.Added {
		fmt.Fprintf(w, "%s [%s] ID=%s + %s .. %s\n", entry.Timestamp.Format(time.RFC3339), entry.Key, entry.ID, s.From, s.To)
	}
	for _, s := range entry.Removed {
		fmt.Fprintf(w, "%s [%s] ID=%s - %s .. %s\n", entry.Timestamp.Format(time.RFC3339), entry.Key, entry.ID, s.From, s.To)
	}
	return nil
}
