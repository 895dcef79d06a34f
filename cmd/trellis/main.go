// Command trellis runs the table-store automation daemon: webhook
// ingestion, rule matching, action execution, reconciliation, and the
// delayed-task and cron schedulers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/config"
	"github.com/teranos/trellis/cron"
	"github.com/teranos/trellis/db"
	"github.com/teranos/trellis/dedup"
	"github.com/teranos/trellis/delay"
	"github.com/teranos/trellis/engine"
	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/internal/metrics"
	"github.com/teranos/trellis/logger"
	"github.com/teranos/trellis/recon"
	"github.com/teranos/trellis/rules"
	"github.com/teranos/trellis/server"
	"github.com/teranos/trellis/source"
	"github.com/teranos/trellis/version"
)

var (
	configPath string
	jsonLogs   bool
)

func main() {
	root := &cobra.Command{
		Use:   "trellis",
		Short: "Table-store automation engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the automation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Get().String())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Initialize(jsonLogs); err != nil {
		return err
	}
	defer logger.Cleanup()
	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
	}

	client := source.NewHTTPClient(source.HTTPClientConfig{
		BaseURL:           cfg.Source.BaseURL,
		Token:             cfg.Source.Token,
		Timeout:           time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Source.RequestsPerMinute,
	}, log)

	if cfg.Rules.Path == "" {
		return errors.New("rules.path is required")
	}
	provider, err := rules.NewFileProvider(cfg.Rules.Path, log)
	if err != nil {
		return err
	}
	if cfg.Rules.Reload {
		if err := provider.Watch(); err != nil {
			return err
		}
	}
	defer provider.Close()

	guard := dedup.Open(dedup.Config{
		Backend:   cfg.Dedup.Backend,
		Window:    time.Duration(cfg.Dedup.WindowSeconds) * time.Second,
		RedisAddr: cfg.Dedup.RedisAddr,
	}, conn, log)
	defer guard.Close()

	runLog := action.NewRunLogStore(conn)
	deadLetters := action.NewDeadLetterStore(conn)
	tasks := delay.NewStore(conn)
	jobs := cron.NewStore(conn)

	deliverer := action.DelivererFunc(func(ctx context.Context, intent action.Intent) error {
		// Notifications land in the log until a chat or mail channel is
		// configured. The run log still captures every delivery.
		log.Infow("Notification",
			"channel", intent.Spec.Param("channel"),
			"message", intent.Spec.Param("message"),
		)
		return nil
	})

	executor := action.NewExecutor(deliverer, client, tasks, runLog, deadLetters, sink, log)
	matcher := rules.NewMatcher(provider)

	eng := engine.New(engine.Config{
		DedupWindow: time.Duration(cfg.Dedup.WindowSeconds) * time.Second,
		MaxAttempts: cfg.Delay.MaxAttempts,
	}, guard, client, matcher, executor, sink, log)

	checkpoints := recon.NewCheckpointStore(conn)
	snapshots := recon.NewSnapshotStore(conn)
	poller := recon.NewPoller(recon.PollerConfig{
		Interval:  time.Duration(cfg.Recon.IntervalSeconds) * time.Second,
		Tables:    cfg.Recon.Tables,
		BatchSize: cfg.Recon.BatchSize,
	}, client, checkpoints, snapshots, eng, sink, log)

	schemaWatcher := recon.NewSchemaWatcher(
		time.Duration(cfg.Schema.IntervalSeconds)*time.Second,
		cfg.Recon.Tables,
		client,
		recon.NewSchemaStore(conn),
		provider,
		deliverer,
		sink,
		log,
	)

	delayScheduler := delay.NewScheduler(delay.SchedulerConfig{
		Interval:    time.Duration(cfg.Delay.IntervalSeconds) * time.Second,
		ClaimLimit:  cfg.Delay.ClaimLimit,
		MaxAttempts: cfg.Delay.MaxAttempts,
	}, tasks, executor, sink, log)

	cronScheduler := cron.NewScheduler(jobs, executor, cfg.Delay.MaxAttempts, sink, log)

	srv := server.New(cfg.Server, eng, tasks, jobs, runLog, deadLetters, cfg.Metrics.Enabled, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		poller.Run(ctx)
		return nil
	})
	group.Go(func() error {
		schemaWatcher.Run(ctx)
		return nil
	})
	group.Go(func() error {
		delayScheduler.Run(ctx)
		return nil
	})
	group.Go(func() error {
		cronScheduler.Run(ctx)
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Dedup.WindowSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if removed, err := guard.CleanupExpired(ctx); err != nil {
					log.Warnw("Dedup cleanup failed", "error", err)
				} else if removed > 0 {
					log.Debugw("Dedup entries evicted", "count", removed)
				}
			}
		}
	})
	group.Go(func() error {
		return srv.Start()
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Infow("trellis started", "port", cfg.Server.Port)
	return group.Wait()
}
