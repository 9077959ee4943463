// Package scheduler triggers pipeline runs on a cron cadence, retries failed
// runs a bounded number of times and notifies an operator when retries run
// out.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/metrics"
	"github.com/lox/weatherlanding/internal/models"
)

const (
	DefaultSpec       = "@hourly"
	DefaultRetries    = 1
	DefaultRetryDelay = 5 * time.Minute
)

// Runner executes one pipeline attempt.
type Runner interface {
	RunAttempt(ctx context.Context, attempt int) (*models.RunReport, error)
}

type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

type Config struct {
	Spec       string
	Retries    uint64
	RetryDelay time.Duration
	Location   *time.Location

	// Housekeeping, if set, runs after every scheduled run whatever its
	// outcome. Its error is logged.
	Housekeeping func(ctx context.Context) error
}

type Scheduler struct {
	runner   Runner
	notifier Notifier
	cfg      Config
	log      *zap.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	last *models.RunReport
}

func New(runner Runner, notifier Notifier, cfg Config, log *zap.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, errors.Wrapf(err, "parse schedule %q", cfg.Spec)
	}

	s := &Scheduler{
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("scheduler"),
	}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger{s.log.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log.Sugar()})),
	)
	return s, nil
}

// Run registers the job and blocks until ctx is done. A run already in
// progress is allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx := context.WithoutCancel(ctx)
	if _, err := s.cron.AddFunc(s.cfg.Spec, func() {
		s.scheduledRun(runCtx)
	}); err != nil {
		return errors.Wrap(err, "register job")
	}

	s.cron.Start()
	s.log.Info("scheduler: started", zap.String("spec", s.cfg.Spec), zap.Time("next", s.Next()))

	<-ctx.Done()
	s.log.Info("scheduler: stopping, waiting for in-flight run")
	<-s.cron.Stop().Done()
	s.log.Info("scheduler: stopped")
	return nil
}

func (s *Scheduler) scheduledRun(ctx context.Context) {
	_, _ = s.RunOnce(ctx)
	if s.cfg.Housekeeping == nil {
		return
	}
	if err := s.cfg.Housekeeping(ctx); err != nil {
		s.log.Warn("scheduler: housekeeping failed", zap.Error(err))
	}
}

// Next is the next scheduled trigger, zero if the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce runs the pipeline with retries. When every attempt fails the
// operator is notified and the last attempt's error returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.RunReport, error) {
	var (
		attempt int
		report  *models.RunReport
	)
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.RunRetries.Inc()
		}
		var err error
		report, err = s.runner.RunAttempt(ctx, attempt)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), s.cfg.Retries),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.log.Warn("scheduler: run failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if err != nil {
		s.log.Error("scheduler: retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
		s.notify(ctx, report, attempt, err)
		return report, err
	}
	return report, nil
}

// Last returns the report of the most recent run, or nil.
func (s *Scheduler) Last() *models.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) notify(ctx context.Context, report *models.RunReport, attempts int, err error) {
	if s.notifier == nil {
		return
	}
	subject := fmt.Sprintf("weatherlanding: run failed after %d attempt(s)", attempts)
	if nerr := s.notifier.Notify(ctx, subject, FailureMessage(report, attempts, err)); nerr != nil {
		s.log.Error("scheduler: notification failed", zap.Error(nerr))
	}
}

// FailureMessage renders the operator notification body.
func FailureMessage(report *models.RunReport, attempts int, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline run failed after %d attempt(s).\n\n", attempts)
	if report != nil {
		fmt.Fprintf(&b, "Run:       %s\n", report.ID)
		fmt.Fprintf(&b, "Timestamp: %s\n", report.Timestamp)
		fmt.Fprintf(&b, "Address:   %s\n", report.Address)
		for _, br := range report.Branches {
			fmt.Fprintf(&b, "- %s: %s", br.Source, br.Outcome)
			if br.Outcome == models.OutcomeFailed {
				fmt.Fprintf(&b, " at %s", br.Stage)
			}
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\nError: %v\n", err)
	return b.String()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
