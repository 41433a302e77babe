package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/arloliu/rota"
	"github.com/arloliu/rota/internal/logging"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/internal/notify"
	"github.com/arloliu/rota/internal/store/pg"
)

const defaultMetricsListen = ":9464"

func newServeCommand(v *viper.Viper, baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assignment engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v, withLevel(v, baseLogger))
		},
	}

	flags := cmd.Flags()
	flags.String("postgres-dsn", "", "PostgreSQL DSN for persistence and restart recovery (empty disables)")
	flags.String("amqp-url", "", "RabbitMQ URL for notifications (empty disables)")
	flags.String("amqp-exchange", notify.DefaultExchange, "RabbitMQ topic exchange")
	flags.String("metrics-listen", defaultMetricsListen, "Prometheus scrape address (empty disables)")
	flags.String("lock-backend", "", "lock backend override (memory, kv)")
	flags.Bool("events", true, "consume inbound events from JetStream (requires --nats-url)")
	bindFlags(v, flags)

	return cmd
}

// runServe wires the manager with the optional infrastructure and blocks
// until ctx is cancelled.
func runServe(ctx context.Context, v *viper.Viper, logger pslog.Logger) error {
	log := logging.NewPslog(logger)
	cliLog := log.Subsystem("cli.serve")

	cfg, path, err := loadConfig(v)
	if err != nil {
		return err
	}
	if path != "" {
		cliLog.Info("loaded config file", "path", path)
	}
	if backend := v.GetString("lock-backend"); backend != "" {
		cfg.Locks.Backend = backend
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []rota.Option{
		rota.WithLogger(log.Subsystem("engine")),
		rota.WithMetrics(metrics.NewPrometheus(registry, "rota")),
	}

	if url := v.GetString("nats-url"); url != "" {
		nc, err := nats.Connect(url, nats.Name("rotad"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		cleanups = append(cleanups, func() { _ = nc.Drain() })
		opts = append(opts, rota.WithNATS(nc))
		cfg.Events.Enabled = v.GetBool("events")
		cliLog.Info("connected to nats", "url", nc.ConnectedUrlRedacted())
	} else {
		cfg.Events.Enabled = false
	}

	if dsn := v.GetString("postgres-dsn"); dsn != "" {
		db, err := pg.Open(dsn)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		cleanups = append(cleanups, func() { _ = db.Close() })

		migrateCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
		err = db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return err
		}
		opts = append(opts, rota.WithPersister(db), rota.WithSnapshotLoader(db))
	}

	if url := v.GetString("amqp-url"); url != "" {
		exchange := v.GetString("amqp-exchange")
		conn, err := notify.DialAMQP(url, exchange)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = conn.Close() })

		n, err := notify.NewAMQP(notify.AMQPConfig{
			Channel:  conn.Channel(),
			Exchange: exchange,
			Producer: cfg.Notify.Producer,
		})
		if err != nil {
			return err
		}
		opts = append(opts, rota.WithNotifier(n))
	}

	mgr, err := rota.NewManager(&cfg, opts...)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := mgr.Stop(stopCtx); err != nil {
			cliLog.Error("shutdown failed", "error", err)
		}
	}()

	if addr := v.GetString("metrics-listen"); addr != "" {
		srv, err := startMetricsServer(addr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), cliLog)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if path != "" {
		watchAlertThresholds(v, path, mgr, cliLog)
	}

	cliLog.Info("rotad running",
		"pid", os.Getpid(),
		"inactivity_timeout", cfg.InactivityTimeout,
		"lock_backend", cfg.Locks.Backend,
		"events", cfg.Events.Enabled,
		"audit_interval", cfg.AuditInterval,
	)

	<-ctx.Done()
	cliLog.Info("shutting down")

	return nil
}

// watchAlertThresholds reloads the config file on change and applies its
// alert thresholds. Other settings need a restart.
func watchAlertThresholds(v *viper.Viper, path string, mgr *rota.Manager, log *logging.PsLogger) {
	v.SetConfigFile(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := rota.LoadConfigFile(path)
		if err != nil {
			log.Warn("config reload failed", "path", path, "error", err)
			return
		}
		mgr.SetAlertThresholds(cfg.Alerts)
	})
	v.WatchConfig()
}

func startMetricsServer(addr string, handler http.Handler, log *logging.PsLogger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", ln.Addr().String())

	return srv, nil
}
