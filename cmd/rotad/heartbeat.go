package main

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/arloliu/rota/internal/kvutil"
	"github.com/arloliu/rota/internal/logging"
	"github.com/arloliu/rota/internal/presence"
	"github.com/arloliu/rota/types"
)

func newHeartbeatCommand(v *viper.Viper, baseLogger pslog.Logger) *cobra.Command {
	var (
		worker   int64
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Keep a worker present in the presence bucket until interrupted",
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

			ctx := cmd.Context()
			openCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
			kv, err := kvutil.EnsureBucket(openCtx, js, jetstream.KeyValueConfig{
				Bucket:  cfg.KVBuckets.PresenceBucket,
				History: 1,
				TTL:     cfg.KVBuckets.PresenceTTL,
			}, kvutil.DefaultRetries)
			cancel()
			if err != nil {
				return err
			}

			log := logging.NewPslog(withLevel(v, baseLogger)).Subsystem("cli.heartbeat")
			hb := presence.NewHeartbeat(kv, "", types.WorkerID(worker), interval, log)
			if err := hb.Start(ctx); err != nil {
				return err
			}
			log.Info("worker present", "worker_id", worker, "bucket", cfg.KVBuckets.PresenceBucket, "interval", interval)

			<-ctx.Done()

			return hb.Stop()
		},
	}

	cmd.Flags().Int64Var(&worker, "worker", 0, "worker ID to keep online")
	cmd.Flags().DurationVar(&interval, "interval", presence.DefaultHeartbeatInterval, "heartbeat interval (keep well below the bucket TTL)")
	_ = cmd.MarkFlagRequired("worker")

	return cmd
}
