package rota

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/rota/internal/audit"
)

// Lock backends selectable through LockConfig.Backend.
const (
	LockBackendMemory = "memory"
	LockBackendKV     = "kv"
)

// WarningConfig sets the inactivity warning checkpoints, each measured as
// time remaining before the deadline.
type WarningConfig struct {
	First  time.Duration `yaml:"first"`
	Second time.Duration `yaml:"second"`
	Final  time.Duration `yaml:"final"`
}

// ReassignmentConfig controls how expired bindings are handed over.
type ReassignmentConfig struct {
	// MaxAttempts is the number of times an expiry is handled before the
	// binding is left to the auditor and an operator alert is raised.
	MaxAttempts int `yaml:"maxAttempts"`

	// RetryDelay is the linear backoff unit between handling attempts.
	RetryDelay time.Duration `yaml:"retryDelay"`

	// ExcludeInactiveAfter removes workers unseen for longer than this from
	// selection even when they are flagged online.
	ExcludeInactiveAfter time.Duration `yaml:"excludeInactiveAfter"`
}

// RoutingConfig tunes lock contention on the message hot path.
type RoutingConfig struct {
	LockAttempts int           `yaml:"lockAttempts"`
	LockBackoff  time.Duration `yaml:"lockBackoff"`
}

// QueueConfig tunes wait estimates.
type QueueConfig struct {
	// DefaultTurnover seeds the average binding duration until real
	// bindings have ended.
	DefaultTurnover time.Duration `yaml:"defaultTurnover"`
}

// RotationConfig controls the audit-driven rotation of long-held resources.
type RotationConfig struct {
	// MaxBindingAge is the age after which a binding is rotated when other
	// workers are waiting. Zero disables rotation.
	MaxBindingAge time.Duration `yaml:"maxBindingAge"`
}

// EscalationConfig controls notification rounds to offline workers.
type EscalationConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PendingPerWorker int           `yaml:"pendingPerWorker"`
	WorkersPerRound  int           `yaml:"workersPerRound"`
	MinResponders    int           `yaml:"minResponders"`
	MaxRounds        int           `yaml:"maxRounds"`
	FollowUpDelay    time.Duration `yaml:"followUpDelay"`
	CycleInterval    time.Duration `yaml:"cycleInterval"`
}

// LockConfig selects the lock backend.
type LockConfig struct {
	// Backend is "memory" (single process) or "kv" (NATS JetStream KV,
	// shared between replicas; requires WithNATS).
	Backend string `yaml:"backend"`

	// Shards is the shard count of the memory backend.
	Shards int `yaml:"shards"`
}

// KVBucketConfig configures NATS JetStream KV bucket names and TTLs.
type KVBucketConfig struct {
	// LockBucket holds resource and conversation locks when Locks.Backend is "kv".
	LockBucket string `yaml:"lockBucket"`

	// PresenceBucket holds worker presence keys written by gateways.
	PresenceBucket string `yaml:"presenceBucket"`

	// PresenceTTL is how long a presence key survives without a refresh.
	PresenceTTL time.Duration `yaml:"presenceTtl"`
}

// EventsConfig configures the JetStream event consumer.
type EventsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Stream      string        `yaml:"stream"`
	Prefix      string        `yaml:"prefix"`
	Durable     string        `yaml:"durable"`
	Concurrency int           `yaml:"concurrency"`
	BatchSize   int           `yaml:"batchSize"`
	AckWait     time.Duration `yaml:"ackWait"`
	MaxDeliver  int           `yaml:"maxDeliver"`
}

// NotifyConfig configures outbound notification delivery.
type NotifyConfig struct {
	// NATSPrefix enables publishing notifications on <prefix>.<channel>
	// when a NATS connection is supplied. Empty disables it.
	NATSPrefix string `yaml:"natsPrefix"`

	// AsyncBuffer bounds the queue in front of external notifiers.
	AsyncBuffer int `yaml:"asyncBuffer"`

	// Producer is stamped into every notification envelope.
	Producer string `yaml:"producer"`
}

// Config is the engine configuration.
type Config struct {
	// InactivityTimeout is the idle time after which a binding expires.
	InactivityTimeout time.Duration `yaml:"inactivityTimeout"`

	// Warnings are the staged warning checkpoints before expiry.
	Warnings WarningConfig `yaml:"warningThresholds"`

	// Reassignment controls expiry handling and worker eligibility.
	Reassignment ReassignmentConfig `yaml:"reassignment"`

	// LockDefaultTTL is the TTL of locks acquired without an explicit one.
	LockDefaultTTL time.Duration `yaml:"lockDefaultTtl"`

	// AuditInterval is the spacing between reconciliation passes.
	// Recommended: 15s-2m.
	AuditInterval time.Duration `yaml:"auditInterval"`

	// QueuePriorityDefault is the priority of ordinary queue entries; lower
	// is served first. Workers rotated out re-queue at 0.
	QueuePriorityDefault int `yaml:"queuePriorityDefault"`

	Routing    RoutingConfig    `yaml:"routing"`
	Queue      QueueConfig      `yaml:"queue"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Escalation EscalationConfig `yaml:"escalation"`
	Alerts     audit.Thresholds `yaml:"alerts"`
	Locks      LockConfig       `yaml:"locks"`
	KVBuckets  KVBucketConfig   `yaml:"kvBuckets"`
	Events     EventsConfig     `yaml:"events"`
	Notify     NotifyConfig     `yaml:"notify"`

	// OperationTimeout bounds a single event handling call and KV setup.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout is the maximum time Stop waits for background work.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 300 * time.Second,
		Warnings: WarningConfig{
			First:  60 * time.Second,
			Second: 30 * time.Second,
			Final:  10 * time.Second,
		},
		Reassignment: ReassignmentConfig{
			MaxAttempts:          3,
			RetryDelay:           5 * time.Second,
			ExcludeInactiveAfter: 30 * time.Minute,
		},
		LockDefaultTTL:       10 * time.Second,
		AuditInterval:        30 * time.Second,
		QueuePriorityDefault: 5,
		Routing: RoutingConfig{
			LockAttempts: 5,
			LockBackoff:  20 * time.Millisecond,
		},
		Queue: QueueConfig{
			DefaultTurnover: 5 * time.Minute,
		},
		Escalation: EscalationConfig{
			Enabled:          true,
			PendingPerWorker: 2,
			WorkersPerRound:  3,
			MinResponders:    2,
			MaxRounds:        3,
			FollowUpDelay:    5 * time.Minute,
			CycleInterval:    time.Minute,
		},
		Alerts: audit.DefaultThresholds(),
		Locks: LockConfig{
			Backend: LockBackendMemory,
			Shards:  32,
		},
		KVBuckets: KVBucketConfig{
			LockBucket:     "rota-locks",
			PresenceBucket: "rota-presence",
			PresenceTTL:    6 * time.Second,
		},
		Events: EventsConfig{
			Stream:      "ROTA_EVENTS",
			Prefix:      "rota.events",
			Durable:     "rota-engine",
			Concurrency: 8,
			BatchSize:   16,
			AckWait:     30 * time.Second,
			MaxDeliver:  5,
		},
		Notify: NotifyConfig{
			AsyncBuffer: 1024,
			Producer:    "rota",
		},
		OperationTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
// Booleans are left alone.
func SetDefaults(cfg *Config) {
	d := DefaultConfig()

	setDuration(&cfg.InactivityTimeout, d.InactivityTimeout)
	setDuration(&cfg.Warnings.First, d.Warnings.First)
	setDuration(&cfg.Warnings.Second, d.Warnings.Second)
	setDuration(&cfg.Warnings.Final, d.Warnings.Final)
	setInt(&cfg.Reassignment.MaxAttempts, d.Reassignment.MaxAttempts)
	setDuration(&cfg.Reassignment.RetryDelay, d.Reassignment.RetryDelay)
	setDuration(&cfg.Reassignment.ExcludeInactiveAfter, d.Reassignment.ExcludeInactiveAfter)
	setDuration(&cfg.LockDefaultTTL, d.LockDefaultTTL)
	setDuration(&cfg.AuditInterval, d.AuditInterval)
	setInt(&cfg.Routing.LockAttempts, d.Routing.LockAttempts)
	setDuration(&cfg.Routing.LockBackoff, d.Routing.LockBackoff)
	setDuration(&cfg.Queue.DefaultTurnover, d.Queue.DefaultTurnover)
	// QueuePriorityDefault and Rotation.MaxBindingAge are meaningful at zero.

	setInt(&cfg.Escalation.PendingPerWorker, d.Escalation.PendingPerWorker)
	setInt(&cfg.Escalation.WorkersPerRound, d.Escalation.WorkersPerRound)
	setInt(&cfg.Escalation.MinResponders, d.Escalation.MinResponders)
	setInt(&cfg.Escalation.MaxRounds, d.Escalation.MaxRounds)
	setDuration(&cfg.Escalation.FollowUpDelay, d.Escalation.FollowUpDelay)
	setDuration(&cfg.Escalation.CycleInterval, d.Escalation.CycleInterval)

	if cfg.Alerts == (audit.Thresholds{}) {
		cfg.Alerts = d.Alerts
	}

	setString(&cfg.Locks.Backend, d.Locks.Backend)
	setInt(&cfg.Locks.Shards, d.Locks.Shards)
	setString(&cfg.KVBuckets.LockBucket, d.KVBuckets.LockBucket)
	setString(&cfg.KVBuckets.PresenceBucket, d.KVBuckets.PresenceBucket)
	setDuration(&cfg.KVBuckets.PresenceTTL, d.KVBuckets.PresenceTTL)

	setString(&cfg.Events.Stream, d.Events.Stream)
	setString(&cfg.Events.Prefix, d.Events.Prefix)
	setString(&cfg.Events.Durable, d.Events.Durable)
	setInt(&cfg.Events.Concurrency, d.Events.Concurrency)
	setInt(&cfg.Events.BatchSize, d.Events.BatchSize)
	setDuration(&cfg.Events.AckWait, d.Events.AckWait)
	setInt(&cfg.Events.MaxDeliver, d.Events.MaxDeliver)

	setInt(&cfg.Notify.AsyncBuffer, d.Notify.AsyncBuffer)
	setString(&cfg.Notify.Producer, d.Notify.Producer)

	setDuration(&cfg.OperationTimeout, d.OperationTimeout)
	setDuration(&cfg.ShutdownTimeout, d.ShutdownTimeout)
}

func setDuration(v *time.Duration, d time.Duration) {
	if *v == 0 {
		*v = d
	}
}

func setInt(v *int, d int) {
	if *v == 0 {
		*v = d
	}
}

func setString(v *string, d string) {
	if *v == "" {
		*v = d
	}
}

// Validate checks configuration constraints and returns an error for
// invalid values.
//
// Hard rules:
//   - InactivityTimeout > Warnings.First > Warnings.Second > Warnings.Final > 0
//   - Reassignment.MaxAttempts >= 1
//   - LockDefaultTTL and AuditInterval > 0
//   - QueuePriorityDefault and Rotation.MaxBindingAge >= 0
//   - Locks.Backend is "memory" or "kv"
func (cfg *Config) Validate() error {
	if cfg.InactivityTimeout <= 0 {
		return fmt.Errorf("InactivityTimeout must be > 0, got %v", cfg.InactivityTimeout)
	}

	w := cfg.Warnings
	if w.Final <= 0 || w.Second <= w.Final || w.First <= w.Second {
		return fmt.Errorf(
			"warning thresholds must satisfy first (%v) > second (%v) > final (%v) > 0",
			w.First, w.Second, w.Final,
		)
	}
	if w.First >= cfg.InactivityTimeout {
		return fmt.Errorf(
			"first warning (%v) must be shorter than InactivityTimeout (%v)",
			w.First, cfg.InactivityTimeout,
		)
	}

	if cfg.Reassignment.MaxAttempts < 1 {
		return fmt.Errorf("Reassignment.MaxAttempts must be >= 1, got %d", cfg.Reassignment.MaxAttempts)
	}
	if cfg.Reassignment.RetryDelay < 0 || cfg.Reassignment.ExcludeInactiveAfter < 0 {
		return fmt.Errorf("reassignment durations must not be negative")
	}

	if cfg.LockDefaultTTL <= 0 {
		return fmt.Errorf("LockDefaultTTL must be > 0, got %v", cfg.LockDefaultTTL)
	}
	if cfg.AuditInterval <= 0 {
		return fmt.Errorf("AuditInterval must be > 0, got %v", cfg.AuditInterval)
	}
	if cfg.QueuePriorityDefault < 0 {
		return fmt.Errorf("QueuePriorityDefault must not be negative, got %d", cfg.QueuePriorityDefault)
	}
	if cfg.Rotation.MaxBindingAge < 0 {
		return fmt.Errorf("Rotation.MaxBindingAge must not be negative, got %v", cfg.Rotation.MaxBindingAge)
	}

	switch cfg.Locks.Backend {
	case LockBackendMemory, LockBackendKV:
	default:
		return fmt.Errorf("Locks.Backend must be %q or %q, got %q", LockBackendMemory, LockBackendKV, cfg.Locks.Backend)
	}

	if cfg.Events.Enabled && cfg.Events.Stream == "" {
		return fmt.Errorf("Events.Stream is required when events are enabled")
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but not
// recommended. It is called after Validate in NewManager.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.AuditInterval < 15*time.Second || cfg.AuditInterval > 2*time.Minute {
		logger.Warn(
			"AuditInterval is outside the recommended range",
			"audit_interval", cfg.AuditInterval,
			"recommended", "15s-2m",
		)
	}

	if cfg.LockDefaultTTL > cfg.InactivityTimeout {
		logger.Warn(
			"LockDefaultTTL exceeds InactivityTimeout, a crashed holder blocks reassignment",
			"lock_default_ttl", cfg.LockDefaultTTL,
			"inactivity_timeout", cfg.InactivityTimeout,
		)
	}

	if cfg.Reassignment.ExcludeInactiveAfter > 0 && cfg.Reassignment.ExcludeInactiveAfter < cfg.InactivityTimeout {
		logger.Warn(
			"ExcludeInactiveAfter is shorter than InactivityTimeout, idle but bound workers lose eligibility first",
			"exclude_inactive_after", cfg.Reassignment.ExcludeInactiveAfter,
			"inactivity_timeout", cfg.InactivityTimeout,
		)
	}

	if cfg.Locks.Backend == LockBackendKV && cfg.LockDefaultTTL < time.Second {
		logger.Warn(
			"LockDefaultTTL below 1s is shorter than typical KV round trips",
			"lock_default_ttl", cfg.LockDefaultTTL,
		)
	}
}

// TestConfig returns a configuration with short timings for tests. Use
// DefaultConfig for production deployments.
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.InactivityTimeout = 3 * time.Second
	cfg.Warnings = WarningConfig{First: 2 * time.Second, Second: time.Second, Final: 500 * time.Millisecond}
	cfg.Reassignment.RetryDelay = 100 * time.Millisecond
	cfg.LockDefaultTTL = time.Second
	cfg.AuditInterval = 500 * time.Millisecond
	cfg.Routing.LockBackoff = time.Millisecond
	cfg.Escalation.FollowUpDelay = time.Second
	cfg.Escalation.CycleInterval = 100 * time.Millisecond
	cfg.KVBuckets.PresenceTTL = 1500 * time.Millisecond
	cfg.Events.AckWait = 2 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

// LoadConfigFile reads a YAML configuration file. See ParseConfig.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration over DefaultConfig, so omitted
// keys keep their defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}
