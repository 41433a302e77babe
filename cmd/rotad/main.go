// Command rotad runs the assignment engine as a service: events arrive on a
// JetStream stream, worker presence is read from a KV bucket, and
// notifications leave through NATS and, optionally, RabbitMQ.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("ROTA_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "rotad")

	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}

		return 1
	}

	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "rotad",
		Short:         "rotad assigns moderators to profiles and reassigns idle ones",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # In-process locks, events from the local NATS server
  rotad serve --nats-url nats://127.0.0.1:4222

  # Shared KV locks, PostgreSQL persistence and RabbitMQ notifications
  ROTA_POSTGRES_DSN=postgres://rota@db/rota rotad serve -c /etc/rota/rota.yaml \
    --lock-backend kv --amqp-url amqp://guest:guest@mq:5672/

  # Inspect the locks held in the KV bucket
  rotad locks --nats-url nats://127.0.0.1:4222
`,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file")
	flags.String("nats-url", "", "NATS server URL")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	bindFlags(v, flags)
	v.SetEnvPrefix("ROTA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(
		newServeCommand(v, baseLogger),
		newLocksCommand(v),
		newHeartbeatCommand(v, baseLogger),
		newConfigCommand(v),
	)

	return cmd
}

// bindFlags binds every flag in fs to v under the flag's name.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
}

// withLevel applies the configured log level to logger.
func withLevel(v *viper.Viper, logger pslog.Logger) pslog.Logger {
	level, ok := pslog.ParseLevel(strings.TrimSpace(v.GetString("log-level")))
	if !ok {
		return logger
	}

	return logger.LogLevel(level)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()

	return ctx
}
