package application

import (
	"context"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type SweeperConfig struct {
	Interval     time.Duration
	StuckAfter   time.Duration
	RetryBackoff time.Duration
	BatchSize    int
	Concurrency  int
}

var DefaultSweeperConfig = SweeperConfig{
	Interval:     5 * time.Minute,
	StuckAfter:   10 * time.Minute,
	RetryBackoff: time.Minute,
	BatchSize:    100,
	Concurrency:  4,
}

// Purger drops expired idempotency records.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type SweepReport struct {
	TimedOut int
	Retried  int
	Skipped  int
	Purged   int64
}

type Sweeper struct {
	repo    domain.Repository
	svc     *Service
	purger  Purger
	metrics *metrics.Metrics
	cfg     SweeperConfig
	now     func() time.Time
}

func NewSweeper(repo domain.Repository, svc *Service, m *metrics.Metrics, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweeperConfig.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSweeperConfig.Concurrency
	}
	return &Sweeper{
		repo:    repo,
		svc:     svc,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *Sweeper) WithPurger(p Purger) *Sweeper {
	s.purger = p
	return s
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("SWEEPER:EXIT")
			return
		case <-ticker.C:
			report, err := s.SweepOnce(ctx)
			if err != nil {
				logrus.Errorf("SWEEPER:FAILED %v", err)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"timedOut": report.TimedOut,
				"retried":  report.Retried,
				"skipped":  report.Skipped,
				"purged":   report.Purged,
			}).Info("SWEEPER:DONE")
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	now := s.now()

	stuck, err := s.repo.FindStuckProcessing(ctx, now.Add(-s.cfg.StuckAfter), s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	outcomes := s.forEach(ctx, stuck, s.timeOut)
	report.TimedOut, report.Skipped = count(outcomes)

	failed, err := s.repo.FindRetryableFailed(ctx, now.Add(-s.cfg.RetryBackoff), domain.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	due := failed[:0]
	for _, p := range failed {
		if !p.UpdatedAt.After(now.Add(-s.retryBackoff(p.AttemptCount))) {
			due = append(due, p)
		}
	}
	outcomes = s.forEach(ctx, due, s.retry)
	retried, skipped := count(outcomes)
	report.Retried = retried
	report.Skipped += skipped

	if s.purger != nil {
		purged, err := s.purger.PurgeExpired(ctx)
		if err != nil {
			logrus.Warnf("SWEEPER:PURGE:FAILED %v", err)
		}
		report.Purged = purged
	}
	return report, nil
}

// retryBackoff doubles the wait after every failed attempt.
func (s *Sweeper) retryBackoff(attempts int) time.Duration {
	d := s.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

func (s *Sweeper) forEach(ctx context.Context, payments []*domain.Payment, fn func(ctx context.Context, p *domain.Payment) bool) []bool {
	outcomes := make([]bool, len(payments))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, p := range payments {
		g.Go(func() error {
			outcomes[i] = fn(ctx, p)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (s *Sweeper) timeOut(ctx context.Context, p *domain.Payment) bool {
	log := logrus.WithFields(logrus.Fields{"paymentID": p.ID, "orderID": p.OrderID})
	if !p.CanTransitionTo(domain.PaymentStatus_Failed) {
		return false
	}
	if err := p.MarkTimedOut(); err != nil {
		return false
	}
	err := s.repo.Update(ctx, p, p.PullEvents()...)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeVersionConflict) {
			log.Info("SWEEPER:TIMEOUT:CONFLICT")
		} else {
			log.Errorf("SWEEPER:TIMEOUT:FAILED %v", err)
		}
		s.metrics.SweeperActions.WithLabelValues("skipped").Inc()
		return false
	}
	log.Warn("SWEEPER:TIMED_OUT")
	s.metrics.SweeperActions.WithLabelValues("timed_out").Inc()
	s.metrics.PaymentsTotal.WithLabelValues(string(p.Status)).Inc()
	return true
}

func (s *Sweeper) retry(ctx context.Context, p *domain.Payment) bool {
	log := logrus.WithFields(logrus.Fields{"paymentID": p.ID, "orderID": p.OrderID, "attempt": p.AttemptCount})
	if !p.CanRetry() {
		return false
	}
	res, err := s.svc.RetryPayment(ctx, RetryPaymentCommand{PaymentID: p.ID})
	if err != nil {
		log.Warnf("SWEEPER:RETRY:FAILED %v", err)
		s.metrics.SweeperActions.WithLabelValues("skipped").Inc()
		return false
	}
	log.WithField("status", res.Payment.Status).Info("SWEEPER:RETRIED")
	s.metrics.SweeperActions.WithLabelValues("retried").Inc()
	return true
}

func count(outcomes []bool) (done, skipped int) {
	for _, ok := range outcomes {
		if ok {
			done++
		} else {
			skipped++
		}
	}
	return done, skipped
}
