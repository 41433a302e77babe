package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/types"
)

var errNATSURLRequired = errors.New("--nats-url (or ROTA_NATS_URL) is required")

// connectJetStream dials --nats-url and returns a JetStream context.
func connectJetStream(v *viper.Viper) (*nats.Conn, jetstream.JetStream, error) {
	url := v.GetString("nats-url")
	if url == "" {
		return nil, nil, errNATSURLRequired
	}

	nc, err := nats.Connect(url, nats.Name("rotad-cli"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return nc, js, nil
}

func newLocksCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List the locks held in the KV lock bucket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}

			nc, js, err := connectJetStream(v)
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.OperationTimeout)
			defer cancel()

			kv, err := js.KeyValue(ctx, cfg.KVBuckets.LockBucket)
			if err != nil {
				return fmt.Errorf("open lock bucket %s: %w", cfg.KVBuckets.LockBucket, err)
			}
			locks, err := lock.NewKV(kv, clock.Real{}).List(ctx)
			if err != nil {
				return err
			}

			return printLocks(cmd.OutOrStdout(), locks, time.Now())
		},
	}
}

func printLocks(out io.Writer, locks []types.Lock, now time.Time) error {
	if len(locks) == 0 {
		_, err := fmt.Fprintln(out, "no locks held")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tHOLDER\tLOCKED\tEXPIRES")
	for _, l := range locks {
		expires := "never"
		switch {
		case l.Expired(now):
			expires = "expired " + humanize.RelTime(l.ExpiresAt, now, "ago", "from now")
		case !l.ExpiresAt.IsZero():
			expires = humanize.RelTime(l.ExpiresAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Key, l.Holder, humanize.RelTime(l.LockedAt, now, "ago", "from now"), expires)
	}

	return tw.Flush()
}
