// Package scheduler drives the extract-classify-sync cycle on a fixed
// interval. Cycles never overlap: the loop blocks for the full duration of a
// cycle's work before sleeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/classify"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/dedup"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/etl"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/source"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/status"
)

// Stats are the run statistics exposed on the status endpoint.
type Stats struct {
	Runs      int       `json:"runs"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastRunOK bool      `json:"last_run_ok"`
	LastError string    `json:"last_error,omitempty"`
}

// DedupStore is the persistence slice of the dedup store the scheduler
// drives at the end of each cycle.
type DedupStore interface {
	Flush() error
	PendingCount() int
	Prune(cutoff time.Time) (int64, error)
}

var _ DedupStore = (*dedup.Store)(nil)

// Options wires a Scheduler. Sales and Students may each be nil when the
// corresponding group is not configured.
type Options struct {
	Source    source.Source
	Rules     classify.Rules
	Sales     *etl.SalesSync
	Students  *etl.StudentSync
	Dedup     DedupStore
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
	Interval  time.Duration
	Timeout   time.Duration // bound on each external call
	Retention time.Duration // dedup prune horizon
	MaxCount  int

	SalesGroup    string
	StudentsGroup string
}

// Scheduler owns the cycle loop and the dedup persistence boundary.
type Scheduler struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{opts: opts, log: log}
}

// Run loops one cycle per interval until ctx is canceled. Cancellation is
// honored between cycles only: a cycle in flight finishes its persistence
// step before the loop exits.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.String("sales_group", s.opts.SalesGroup),
		zap.String("students_group", s.opts.StudentsGroup))

	timer := time.NewTimer(0)
	defer timer.Stop()
	// Consume the immediate first tick so the first cycle runs right away.
	<-timer.C

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		default:
		}

		timer.Reset(s.opts.Interval)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce executes a single cycle and records its outcome in the stats.
func (s *Scheduler) RunOnce(ctx context.Context) {
	// The cycle must not be torn down mid-flight by shutdown; work runs on a
	// detached context with its own bound.
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cycleBudget())
	defer cancel()

	start := time.Now()
	err := s.runCycle(cycleCtx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastRunAt = start
	s.stats.LastRunOK = err == nil
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.Successes++
		s.stats.LastError = ""
	}
	s.mu.Unlock()
}

// Stats returns a snapshot of the run statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type groupRun struct {
	name string
	sync func(ctx context.Context, records []classify.Record) error
}

func (s *Scheduler) groups() []groupRun {
	var runs []groupRun
	if s.opts.Sales != nil && s.opts.SalesGroup != "" {
		runs = append(runs, groupRun{
			name: s.opts.SalesGroup,
			sync: func(ctx context.Context, records []classify.Record) error {
				n, err := s.opts.Sales.Sync(ctx, records)
				if err != nil {
					return err
				}
				s.opts.Bus.Publish(bus.Event{
					Kind:      bus.KindSaleRows,
					Timestamp: time.Now(),
					Payload:   n,
				})
				return nil
			},
		})
	}
	if s.opts.Students != nil && s.opts.StudentsGroup != "" {
		runs = append(runs, groupRun{
			name: s.opts.StudentsGroup,
			sync: func(ctx context.Context, records []classify.Record) error {
				sum, err := s.opts.Students.Sync(ctx, records)
				if err != nil {
					return err
				}
				s.opts.Bus.Publish(bus.Event{
					Kind:      bus.KindPracticeMerged,
					Timestamp: time.Now(),
					Payload:   sum,
				})
				return nil
			},
		})
	}
	return runs
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	log := s.log.With(zap.String("cycle_id", cycleID))
	log.Info("cycle started")
	s.opts.Bus.Publish(bus.Event{Kind: bus.KindCycleStarted, Timestamp: time.Now(), Payload: cycleID})

	var cycleErr error
	for _, g := range s.groups() {
		if err := s.runGroup(ctx, log, g); err != nil {
			// Remaining stages are skipped for this cycle; the next cycle
			// retries everything still unmarked.
			cycleErr = fmt.Errorf("group %s: %w", g.name, err)
			break
		}
	}

	// Persist staged dedup marks even after a failed group: marks are staged
	// only for writes the sinks confirmed, so flushing them is always safe
	// and skipping it would re-deliver confirmed rows next cycle.
	if cycleErr == nil {
		cycleErr = s.persist(log)
	} else {
		s.opts.Machine.Reset()
		if err := s.flush(log); err != nil {
			cycleErr = errors.Join(cycleErr, err)
		}
	}

	if cycleErr != nil {
		log.Error("cycle failed", zap.Error(cycleErr))
		s.opts.Bus.Publish(bus.Event{Kind: bus.KindCycleFailed, Timestamp: time.Now(), Payload: cycleID})
		return cycleErr
	}

	log.Info("cycle completed")
	s.opts.Bus.Publish(bus.Event{Kind: bus.KindCycleCompleted, Timestamp: time.Now(), Payload: cycleID})
	return nil
}

func (s *Scheduler) runGroup(ctx context.Context, log *zap.Logger, g groupRun) error {
	glog := log.With(zap.String("group", g.name))

	if err := s.opts.Machine.Transition(status.Fetching); err != nil {
		return err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	msgs, err := s.opts.Source.Fetch(fetchCtx, g.name, s.opts.MaxCount)
	cancel()
	if err != nil {
		glog.Error("fetch failed", zap.String("stage", "fetching"), zap.Error(err))
		return fmt.Errorf("fetch: %w", err)
	}
	glog.Info("messages fetched", zap.Int("count", len(msgs)))

	if err := s.opts.Machine.Transition(status.Classifying); err != nil {
		return err
	}
	records := make([]classify.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, s.opts.Rules.Classify(m))
	}

	if err := s.opts.Machine.Transition(status.Syncing); err != nil {
		return err
	}
	if err := g.sync(ctx, records); err != nil {
		glog.Error("sync failed", zap.String("stage", "syncing"), zap.Error(err))
		return fmt.Errorf("sync: %w", err)
	}

	return nil
}

func (s *Scheduler) persist(log *zap.Logger) error {
	if err := s.opts.Machine.Transition(status.Persisting); err != nil {
		s.opts.Machine.Reset()
		return s.flush(log)
	}
	defer func() { _ = s.opts.Machine.Transition(status.Idle) }()

	if err := s.flush(log); err != nil {
		return err
	}

	if s.opts.Retention > 0 {
		cutoff := time.Now().Add(-s.opts.Retention)
		n, err := s.opts.Dedup.Prune(cutoff)
		if err != nil {
			log.Warn("dedup prune failed", zap.Error(err))
		} else if n > 0 {
			log.Info("dedup entries pruned", zap.Int64("count", n))
		}
	}
	return nil
}

func (s *Scheduler) flush(log *zap.Logger) error {
	pending := s.opts.Dedup.PendingCount()
	if err := s.opts.Dedup.Flush(); err != nil {
		log.Error("dedup flush failed", zap.String("stage", "persisting"), zap.Error(err))
		return fmt.Errorf("flush dedup: %w", err)
	}
	if pending > 0 {
		log.Info("dedup marks persisted", zap.Int("count", pending))
	}
	return nil
}

// cycleBudget bounds a whole cycle so a hung external call cannot stall the
// loop past its interval.
func (s *Scheduler) cycleBudget() time.Duration {
	budget := s.opts.Interval
	if budget < time.Minute {
		budget = time.Minute
	}
	return budget
}
