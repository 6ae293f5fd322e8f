// Package simulator stands in for delivering reports to a moderation backend.
// Each requested copy is one attempt whose outcome comes from a Strategy.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/models"
	"time"
)

var ErrInvalidCount = fmt.Errorf("simulator: count must be within 1..%d", config.MaxReportCount)

// Strategy decides the outcome of one attempt.
type Strategy interface {
	Attempt(ctx context.Context, n int) bool
}

// RandomStrategy succeeds with the given probability.
type RandomStrategy struct {
	Probability float64
}

func (s RandomStrategy) Attempt(context.Context, int) bool {
	return rand.Float64() < s.Probability
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, n int) bool

func (f StrategyFunc) Attempt(ctx context.Context, n int) bool { return f(ctx, n) }

// Snapshot is the tally after one attempt.
type Snapshot struct {
	Attempt    int `json:"attempt"`
	Count      int `json:"count"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Fraction is the share of attempts done, 0..1.
func (s Snapshot) Fraction() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Attempt) / float64(s.Count)
}

// SuccessRate is successful attempts over the requested count.
func (s Snapshot) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Count)
}

// Done reports whether every attempt has run.
func (s Snapshot) Done() bool { return s.Count > 0 && s.Attempt == s.Count }

type Simulator struct {
	strategy Strategy
	delay    time.Duration
}

func New(strategy Strategy, delay time.Duration) *Simulator {
	if strategy == nil {
		strategy = RandomStrategy{Probability: config.DefaultSuccessRate}
	}
	if delay < 0 {
		delay = 0
	}
	return &Simulator{strategy: strategy, delay: delay}
}

// Run validates count and returns a sequence yielding one snapshot per
// attempt. Attempts run lazily as the caller ranges; the sequence stops early
// if ctx is cancelled or the caller breaks out.
func (s *Simulator) Run(ctx context.Context, count int) (iter.Seq[Snapshot], error) {
	if count < 1 || count > config.MaxReportCount {
		return nil, ErrInvalidCount
	}
	return func(yield func(Snapshot) bool) {
		snap := Snapshot{Count: count}
		for i := 1; i <= count; i++ {
			if i > 1 && !s.wait(ctx) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if s.strategy.Attempt(ctx, i) {
				snap.Successful++
			} else {
				snap.Failed++
			}
			snap.Attempt = i
			if !yield(snap) {
				return
			}
		}
	}, nil
}

func (s *Simulator) wait(ctx context.Context) bool {
	if s.delay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Completer records the final tally of a report.
type Completer interface {
	CompleteReport(ctx context.Context, reportID string, successful, failed int, at time.Time) error
}

// ErrInterrupted means the run stopped before every attempt finished.
var ErrInterrupted = errors.New("simulator: run interrupted")

// Submit runs the simulation for report, passing every snapshot to observe,
// and returns the final snapshot. The report is not completed here; callers
// decide when to persist with Complete.
func (s *Simulator) Submit(ctx context.Context, report *models.Report, observe func(Snapshot)) (Snapshot, error) {
	seq, err := s.Run(ctx, report.RequestedCount)
	if err != nil {
		return Snapshot{}, err
	}
	var last Snapshot
	for snap := range seq {
		last = snap
		if observe != nil {
			observe(snap)
		}
	}
	if last.Attempt < report.RequestedCount {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return last, ErrInterrupted
	}
	return last, nil
}

// Complete persists the final tally of a finished run.
func Complete(ctx context.Context, store Completer, reportID string, final Snapshot, at time.Time) error {
	if err := store.CompleteReport(ctx, reportID, final.Successful, final.Failed, at); err != nil {
		return fmt.Errorf("simulator: complete %s: %w", reportID, err)
	}
	return nil
}
