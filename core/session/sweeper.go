package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/sessionkit/core/logger"
)

// Cleaner is the operation a Sweeper runs on every tick. *Repository implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Sweeper runs the expiration sweep on a cron schedule.
type Sweeper struct {
	cleaner         Cleaner
	spec            string
	schedule        cron.Schedule
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sweeping  atomic.Bool
	runs      atomic.Int64
	expired   atomic.Int64
	failures  atomic.Int64
	lastRunAt atomic.Int64
}

// SweeperStats provides observability metrics for the sweeper.
type SweeperStats struct {
	Runs      int64
	Expired   int64
	Failures  int64
	IsRunning bool
	LastRunAt time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule sets a seconds-enabled cron expression, e.g. "0 * * * * *" for every minute.
func WithSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithSweeperShutdownTimeout bounds how long Stop waits for a running sweep.
func WithSweeperShutdownTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithSweeperLogger configures structured logging for the sweeper.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewSweeper creates a sweeper for cleaner. The default schedule runs every minute.
func NewSweeper(cleaner Cleaner, opts ...SweeperOption) (*Sweeper, error) {
	if cleaner == nil {
		return nil, ErrNilStore
	}

	s := &Sweeper{
		cleaner:         cleaner,
		spec:            "0 * * * * *",
		shutdownTimeout: 30 * time.Second,
		logger:          logger.Nop(),
	}
	if r, ok := cleaner.(*Repository); ok && r.cfg.CleanupCron != "" {
		s.spec = r.cfg.CleanupCron
	}

	for _, opt := range opts {
		opt(s)
	}

	schedule, err := cronParser.Parse(s.spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCleanupSchedule, err)
	}
	s.schedule = schedule

	return s, nil
}

// Start runs the schedule until ctx is cancelled. It blocks.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrSweeperAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.Sweep(ctx)
	}))
	c.Start()

	s.logger.InfoContext(ctx, "session sweeper started", slog.String("schedule", s.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrSweeperNotStarted
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("session sweeper stopped cleanly")
		return nil
	case <-time.After(s.shutdownTimeout):
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Sweeper) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = s.Stop()
				return nil
			}
			return err
		}
	}
}

// Sweep runs one cleanup pass now. Overlapping calls return immediately with zero.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	n, err := s.cleaner.CleanupExpired(ctx)

	s.runs.Add(1)
	s.expired.Add(int64(n))
	s.lastRunAt.Store(start.UnixNano())

	if err != nil {
		s.failures.Add(1)
		s.logger.ErrorContext(ctx, "session sweep failed",
			logger.Count("expired", n),
			logger.Duration(time.Since(start)),
			logger.Error(err))
		return n, err
	}

	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions removed",
			logger.Count("expired", n),
			logger.Duration(time.Since(start)))
	}
	return n, nil
}

// Stats returns current sweeper statistics.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()

	var last time.Time
	if ts := s.lastRunAt.Load(); ts > 0 {
		last = time.Unix(0, ts)
	}

	return SweeperStats{
		Runs:      s.runs.Load(),
		Expired:   s.expired.Load(),
		Failures:  s.failures.Load(),
		IsRunning: running,
		LastRunAt: last,
	}
}

// Healthcheck reports an error when the sweeper is not running.
func (s *Sweeper) Healthcheck(ctx context.Context) error {
	if !s.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrSweeperNotStarted)
	}
	return nil
}
