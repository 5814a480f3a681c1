package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GuestStore is the slice of the user repository the sweeper touches.
type GuestStore interface {
	FlagExpiredGuests(ctx context.Context, createdBefore time.Time) (int64, error)
	PurgeFlagged(ctx context.Context, limit int) (int64, error)
}

// SweeperOptions configures the guest expiry policy and its cadence.
type SweeperOptions struct {
	GuestTTL      time.Duration
	BatchSize     int
	FlagSchedule  string
	PurgeSchedule string
	Timeout       time.Duration
}

// GuestSweeper flags expired guest accounts and purges flagged ones on two
// independent cron schedules.
type GuestSweeper struct {
	store    GuestStore
	eventSvc services.EventServiceProvider
	clock    clock.Clock
	opts     SweeperOptions
	cron     *cron.Cron
}

// NewGuestSweeper creates a new sweeper. eventSvc may be nil.
func NewGuestSweeper(store GuestStore, eventSvc services.EventServiceProvider, clk clock.Clock, opts SweeperOptions) *GuestSweeper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := cronLogger{logger: log.With().Str("component", "guest-sweeper").Logger()}
	return &GuestSweeper{
		store:    store,
		eventSvc: eventSvc,
		clock:    clk,
		opts:     opts,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			// a phase never overlaps with itself
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Start registers both phases and starts the scheduler in its own goroutine.
func (s *GuestSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.opts.FlagSchedule, s.flagTick); err != nil {
		return fmt.Errorf("invalid flag schedule %q: %w", s.opts.FlagSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.opts.PurgeSchedule, s.purgeTick); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.opts.PurgeSchedule, err)
	}

	log.Info().
		Str("flag_schedule", s.opts.FlagSchedule).
		Str("purge_schedule", s.opts.PurgeSchedule).
		Dur("guest_ttl", s.opts.GuestTTL).
		Int("batch_size", s.opts.BatchSize).
		Msg("Starting guest sweeper")
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running ticks to finish, or for
// ctx to expire.
func (s *GuestSweeper) Stop(ctx context.Context) {
	log.Info().Msg("Stopping guest sweeper")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("Guest sweeper stopped before running ticks finished")
	}
}

// FlagExpired soft-deletes every guest older than the TTL and returns how
// many were flagged.
func (s *GuestSweeper) FlagExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.opts.GuestTTL)
	return s.store.FlagExpiredGuests(ctx, cutoff)
}

// PurgeFlagged removes at most one batch of flagged users.
func (s *GuestSweeper) PurgeFlagged(ctx context.Context) (int64, error) {
	return s.store.PurgeFlagged(ctx, s.opts.BatchSize)
}

func (s *GuestSweeper) flagTick() {
	s.runTick("flag", services.EventGuestFlag, "Flagged %d expired guest accounts.", s.FlagExpired)
}

func (s *GuestSweeper) purgeTick() {
	s.runTick("purge", services.EventGuestPurge, "Purged %d flagged accounts.", s.PurgeFlagged)
}

// runTick executes one phase. Failures are logged and left for the next tick.
func (s *GuestSweeper) runTick(phase, eventType, format string, fn func(context.Context) (int64, error)) {
	started := time.Now()
	log.Debug().Str("phase", phase).Msg("Sweeper tick started")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	n, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("phase", phase).Msg("Sweeper tick failed")
		return
	}

	log.Info().Str("phase", phase).Int64("count", n).Dur("took", time.Since(started)).Msg("Sweeper tick finished")
	if n > 0 && s.eventSvc != nil {
		if err := s.eventSvc.CreateEvent(ctx, eventType, "info", fmt.Sprintf(format, n), nil); err != nil {
			log.Warn().Err(err).Str("phase", phase).Msg("Failed to record sweeper event")
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
