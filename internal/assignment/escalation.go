package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/types"
)

// Default escalation policy.
const (
	DefaultPendingPerWorker = 2
	DefaultWorkersPerRound  = 3
	DefaultMinResponders    = 2
	DefaultMaxRounds        = 3
	DefaultFollowUpDelay    = 5 * time.Minute
	DefaultCycleInterval    = time.Minute
	DefaultRoundHistory     = 32
)

// EscalationConfig holds Escalator configuration.
type EscalationConfig struct {
	// Required dependencies
	Store *store.Store
	Clock types.Clock

	// Optional configuration
	PendingPerWorker int           // Unattended conversations each online worker absorbs (default: 2)
	WorkersPerRound  int           // Offline workers notified per round (default: 3)
	MinResponders    int           // Notified workers that must come online to end a cycle (default: 2)
	MaxRounds        int           // Rounds per cycle (default: 3)
	FollowUpDelay    time.Duration // Delay of the single re-check after a round (default: 5m)
	CycleInterval    time.Duration // Minimum spacing between cycle starts (default: 1m)
	RoundHistory     int           // Most recent rounds kept for Rounds (default: 32)

	// Optional dependencies
	Notifier  types.Notifier
	Persister types.Persister // Records each NotificationRound
	Metrics   types.AssignmentMetrics
	Logger    types.Logger
}

// Validate checks configuration validity.
func (c *EscalationConfig) Validate() error {
	if c.Store == nil {
		return errors.New("the Store is required")
	}
	if c.Clock == nil {
		return errors.New("the Clock is required")
	}
	if c.PendingPerWorker < 0 || c.WorkersPerRound < 0 || c.MinResponders < 0 || c.MaxRounds < 0 || c.RoundHistory < 0 {
		return errors.New("escalation thresholds must not be negative")
	}
	if c.FollowUpDelay < 0 || c.CycleInterval < 0 {
		return errors.New("escalation delays must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *EscalationConfig) SetDefaults() {
	if c.PendingPerWorker == 0 {
		c.PendingPerWorker = DefaultPendingPerWorker
	}
	if c.WorkersPerRound == 0 {
		c.WorkersPerRound = DefaultWorkersPerRound
	}
	if c.MinResponders == 0 {
		c.MinResponders = DefaultMinResponders
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.FollowUpDelay == 0 {
		c.FollowUpDelay = DefaultFollowUpDelay
	}
	if c.CycleInterval == 0 {
		c.CycleInterval = DefaultCycleInterval
	}
	if c.RoundHistory == 0 {
		c.RoundHistory = DefaultRoundHistory
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

// Escalator runs the notification-round policy for unattended work.
//
// A cycle starts when unattended conversations exceed online workers ×
// PendingPerWorker. Each round notifies the least-loaded offline but active
// workers not notified earlier in the cycle, then schedules one follow-up.
// The follow-up starts another round only while fewer than MinResponders of
// the last round came online, work is still above the threshold and
// MaxRounds is not reached. A worker "responded" when it is online at the
// follow-up; there is no explicit acknowledgement.
type Escalator struct {
	store     *store.Store
	clock     types.Clock
	cfg       EscalationConfig
	limiter   *rate.Limiter
	notifier  types.Notifier
	persister types.Persister
	metrics   types.AssignmentMetrics
	logger    types.Logger

	mu      sync.Mutex
	cycle   *cycle
	rounds  []types.NotificationRound
	stopped bool
}

type cycle struct {
	round    int
	notified []types.WorkerID // every worker notified in this cycle
	last     []types.WorkerID // workers of the latest round
	timer    types.Timer
}

// NewEscalator creates an escalator with validated configuration.
func NewEscalator(cfg *EscalationConfig) (*Escalator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Escalator{
		store:     cfg.Store,
		clock:     cfg.Clock,
		cfg:       *cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.CycleInterval), 1),
		notifier:  cfg.Notifier,
		persister: cfg.Persister,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Check evaluates the threshold and starts a cycle when it is exceeded, no
// cycle is running and the cycle rate limit allows it. It reports whether a
// round was sent.
func (e *Escalator) Check(ctx context.Context) bool {
	e.mu.Lock()
	if e.stopped || e.cycle != nil {
		e.mu.Unlock()
		return false
	}

	pending, online := e.load()
	if pending <= online*e.cfg.PendingPerWorker {
		e.mu.Unlock()
		return false
	}
	if !e.limiter.AllowN(e.clock.Now(), 1) {
		e.mu.Unlock()
		e.logger.Debug("escalation cycle rate limited", "pending", pending, "online", online)

		return false
	}

	e.cycle = &cycle{}
	round, ok := e.startRoundLocked(pending)
	if !ok {
		e.cycle = nil
	}
	e.mu.Unlock()

	if ok {
		e.send(ctx, round)
	}

	return ok
}

// InProgress reports whether a cycle is waiting for its follow-up.
func (e *Escalator) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cycle != nil
}

// Rounds returns the most recent rounds, oldest first. Older rounds are only
// kept by the Persister.
func (e *Escalator) Rounds() []types.NotificationRound {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.NotificationRound, len(e.rounds))
	for i, r := range e.rounds {
		r.WorkersNotified = slices.Clone(r.WorkersNotified)
		out[i] = r
	}

	return out
}

// Stop cancels a pending follow-up. Later checks do nothing.
func (e *Escalator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	if e.cycle != nil && e.cycle.timer != nil {
		e.cycle.timer.Stop()
	}
	e.cycle = nil
}

// followUp is the single delayed re-check after a round.
func (e *Escalator) followUp() {
	e.mu.Lock()
	c := e.cycle
	if e.stopped || c == nil {
		e.mu.Unlock()
		return
	}

	responders := 0
	for _, id := range c.last {
		if w, ok := e.store.Worker(id); ok && w.Online {
			responders++
		}
	}
	pending, online := e.load()

	if responders >= e.cfg.MinResponders || pending <= online*e.cfg.PendingPerWorker || c.round >= e.cfg.MaxRounds {
		e.cycle = nil
		e.mu.Unlock()
		e.logger.Info("escalation cycle finished",
			"rounds", c.round, "responders", responders, "pending", pending, "online", online)

		return
	}

	round, ok := e.startRoundLocked(pending)
	if !ok {
		e.cycle = nil
	}
	e.mu.Unlock()

	if ok {
		e.send(context.Background(), round)
	}
}

// startRoundLocked picks the round's workers and schedules its follow-up.
// Callers hold mu and have set e.cycle.
func (e *Escalator) startRoundLocked(pending int) (types.NotificationRound, bool) {
	c := e.cycle
	candidates := e.candidates(c.notified)
	if len(candidates) == 0 {
		e.logger.Warn("escalation needed but no offline worker to notify", "pending", pending)
		return types.NotificationRound{}, false
	}

	c.round++
	c.last = candidates
	c.notified = append(c.notified, candidates...)
	c.timer = e.clock.AfterFunc(e.cfg.FollowUpDelay, e.followUp)

	round := types.NotificationRound{
		RoundNumber:      c.round,
		WorkersNotified:  slices.Clone(candidates),
		SentAt:           e.clock.Now(),
		PendingWorkCount: pending,
	}
	e.rounds = append(e.rounds, round)
	if over := len(e.rounds) - e.cfg.RoundHistory; over > 0 {
		e.rounds = slices.Delete(e.rounds, 0, over)
	}

	return round, true
}

// candidates returns up to WorkersPerRound offline, active workers not yet
// notified, least loaded first, then oldest LastSeenAt, then lowest ID.
func (e *Escalator) candidates(exclude []types.WorkerID) []types.WorkerID {
	var pool []types.Worker
	for _, w := range e.store.Workers() {
		if w.Online || w.Status != types.WorkerActive || slices.Contains(exclude, w.ID) {
			continue
		}
		pool = append(pool, w)
	}

	load := make(map[types.WorkerID]int, len(pool))
	for _, w := range pool {
		load[w.ID] = e.store.ActiveCount(w.ID)
	}
	slices.SortStableFunc(pool, func(a, b types.Worker) int {
		if load[a.ID] != load[b.ID] {
			return load[a.ID] - load[b.ID]
		}

		return a.LastSeenAt.Compare(b.LastSeenAt)
	})

	n := min(len(pool), e.cfg.WorkersPerRound)
	out := make([]types.WorkerID, 0, n)
	for _, w := range pool[:n] {
		out = append(out, w.ID)
	}

	return out
}

// load returns unattended conversations and online eligible workers.
func (e *Escalator) load() (pending, online int) {
	for _, w := range e.store.Workers() {
		if w.Online && w.Status == types.WorkerActive {
			online++
		}
	}

	return e.store.UnattendedPendingCount(), online
}

func (e *Escalator) send(ctx context.Context, round types.NotificationRound) {
	e.metrics.RecordNotificationRound(round.RoundNumber, len(round.WorkersNotified))
	e.logger.Info("notification round sent",
		"round", round.RoundNumber, "workers", round.WorkersNotified, "pending", round.PendingWorkCount)

	if e.persister != nil {
		if err := e.persister.SaveNotificationRound(ctx, round); err != nil {
			e.logger.Warn("notification round persist failed", "round", round.RoundNumber, "error", err)
		}
	}
	if e.notifier == nil {
		return
	}
	for _, id := range round.WorkersNotified {
		err := e.notifier.Notify(ctx, types.WorkAvailable{
			WorkerID:         id,
			RoundNumber:      round.RoundNumber,
			PendingWorkCount: round.PendingWorkCount,
		})
		if err != nil {
			e.logger.Warn("work-available notification failed", "worker_id", id, "error", err)
		}
	}
}
