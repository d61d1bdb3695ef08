package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"slotwatch/pkg/bus"
	"slotwatch/pkg/difflog"
	"slotwatch/pkg/metrics"
	"slotwatch/pkg/telemetry"
	"slotwatch/services/monitor"
	"slotwatch/services/monitor/internal/config"
	"slotwatch/services/monitor/internal/ops"
	"slotwatch/services/monitor/internal/watch"
	"slotwatch/services/timeslots"
)

const (
	streamMaxAge    = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

type watchFlags struct {
	ids          []int64
	pick         int
	rps          float64
	from, to     string
	key          string
	restartEvery time.Duration
	opsAddr      string
	natsURL      string
	diffLog      string
	export       string
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously watch timeslots and report changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.apply(cmd, opts.cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runWatch(commandContext(cmd), cfg)
		},
	}

	flags.bind(cmd)
	return cmd
}

func (w *watchFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64SliceVar(&w.ids, "ids", nil, "Supply order ids to watch")
	f.IntVar(&w.pick, "pick", 0, "Watch a random sample of this many orders")
	f.Float64Var(&w.rps, "rps", monitor.DefaultRPS, "Requests per second")
	f.StringVar(&w.from, "from", "", "Keep slots ending at or after this time")
	f.StringVar(&w.to, "to", "", "Keep slots starting at or before this time")
	f.StringVar(&w.key, "key", monitor.DefaultComparisonKey, "Comparison key")
	f.DurationVar(&w.restartEvery, "restart-every", 0, "Restart the monitor on this interval")
	f.StringVar(&w.opsAddr, "ops-addr", "", "Listen address of the ops HTTP server")
	f.StringVar(&w.natsURL, "nats-url", "", "Publish changes to this NATS server")
	f.StringVar(&w.diffLog, "diff-log", "", "Append change lines to this file")
	f.StringVar(&w.export, "export", "", "Write the change history here on exit (.md, .yaml, optional .zst)")
}

// apply overrides cfg with the flags set on the command line.
func (w *watchFlags) apply(cmd *cobra.Command, cfg config.Config) config.Config {
	changed := cmd.Flags().Changed
	if changed("ids") {
		cfg.Monitor.OrderIDs = w.ids
	}
	if changed("pick") {
		cfg.Monitor.Pick = w.pick
	}
	if changed("rps") {
		cfg.Monitor.RPS = w.rps
	}
	if changed("from") {
		cfg.Monitor.From = w.from
	}
	if changed("to") {
		cfg.Monitor.To = w.to
	}
	if changed("key") {
		cfg.Monitor.ComparisonKey = w.key
	}
	if changed("restart-every") {
		cfg.Monitor.RestartEvery = w.restartEvery
	}
	if changed("ops-addr") {
		cfg.OpsAddr = w.opsAddr
	}
	if changed("nats-url") {
		cfg.NATSURL = w.natsURL
	}
	if changed("diff-log") {
		cfg.DiffLogPath = w.diffLog
	}
	if changed("export") {
		cfg.ExportPath = w.export
	}
	return cfg
}

func runWatch(ctx context.Context, cfg config.Config) (err error) {
	shutdownTelemetry, _, logger, err := telemetry.Init(ctx, serviceName, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := shutdownTelemetry(shutdownCtx); shutdownErr != nil {
			logger.Error().Err(shutdownErr).Msg("telemetry shutdown")
		}
	}()
	if cfg.LogFormat == "console" {
		logger = telemetry.ConsoleLogger(os.Stderr, cfg.Level())
	}
	logger = logger.Level(cfg.Level())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	client, err := newSellerClient(cfg, logger, m)
	if err != nil {
		return err
	}

	engineOpts := []timeslots.Option{
		timeslots.WithLogger(logger),
		timeslots.WithMetrics(m),
		timeslots.WithHistoryLimit(cfg.HistoryLimit),
	}
	if cfg.DiffLogPath != "" {
		sink, err := difflog.NewFileSink(cfg.DiffLogPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		engineOpts = append(engineOpts, timeslots.WithSink(sink))
	}
	engine := timeslots.NewEngine(engineOpts...)

	recorder := timeslots.NewRecorder(cfg.HistoryLimit)
	defer engine.Subscribe(recorder.Handle).Unsubscribe()
	if cfg.ExportPath != "" {
		defer writeExport(cfg.ExportPath, recorder, logger)
	}

	var changes *bus.Bus
	if cfg.NATSURL != "" {
		changes, err = bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer changes.Close()
		if err := changes.EnsureStream(bus.StreamName, streamMaxAge, bus.DiffSubject); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		defer engine.Subscribe(watch.PublishChanges(changes, bus.DiffSubject, logger)).Unsubscribe()
		logger.Info().Str("subject", bus.DiffSubject).Msg("publishing changes")
	}

	registry := monitor.NewRegistry(client, engine, monitor.WithLogger(logger), monitor.WithMetrics(m))
	defer registry.StopAll()

	if cfg.OpsAddr != "" {
		srv := &http.Server{
			Addr: cfg.OpsAddr,
			Handler: ops.Router(ops.RouterOptions{
				Monitors:       registry,
				Memory:         engine,
				Recorder:       recorder,
				Gatherer:       reg,
				Ready:          readiness(changes),
				Middleware:     telemetry.Middleware(serviceName, logger),
				AllowedOrigins: cfg.AllowedOrigins,
				RateLimit:      cfg.OpsRateLimit,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("ops server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("ops server shutdown")
			}
		}()
	}

	err = watch.Run(ctx, watch.Options{
		Registry:     registry,
		Lister:       client,
		IDs:          cfg.Monitor.OrderIDs,
		Pick:         cfg.Monitor.Pick,
		RestartEvery: cfg.Monitor.RestartEvery,
		Monitor:      cfg.MonitorConfig,
		Logger:       logger,
	})
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("watch stopped")
		return nil
	}
	return err
}

func readiness(b *bus.Bus) func() error {
	if b == nil {
		return nil
	}
	return b.Ready
}

func writeExport(path string, recorder *timeslots.Recorder, logger zerolog.Logger) {
	exp := timeslots.NewExport("", recorder.Entries(), time.Now())
	if err := timeslots.WriteExport(path, exp); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("write export")
		return
	}
	logger.Info().Str("path", path).Int("entries", len(exp.Entries)).Msg("history exported")
}
