// Package boot brings the device up in order and tears down what was
// already started when a fatal step fails.
package boot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sequence runs boot steps one after another
type Sequence struct {
	logger  *zap.Logger
	steps   []Step
	timeout time.Duration

	mu     sync.RWMutex
	report Report
}

// NewSequence creates a boot sequence. A zero timeout means no deadline.
func NewSequence(logger *zap.Logger, timeout time.Duration, steps ...Step) *Sequence {
	execs := make([]StepExecution, len(steps))
	for i, step := range steps {
		execs[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}
	return &Sequence{
		logger:  logger,
		steps:   steps,
		timeout: timeout,
		report:  Report{State: StateStarted, Steps: execs},
	}
}

// Run executes every step. When one fails, the steps that completed before
// it are compensated in reverse order and the step's error is returned.
func (s *Sequence) Run(ctx context.Context, res *Resources) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.update(func(r *Report) {
		r.State = StateRunning
		r.StartedAt = time.Now()
	})
	s.logger.Info("Boot started", zap.Int("steps", len(s.steps)))

	lastCompleted := -1
	for i, step := range s.steps {
		if err := s.executeStep(ctx, i, step, res); err != nil {
			s.logger.Error("Step failed",
				zap.String("stepID", string(step.ID())),
				zap.Error(err))

			s.update(func(r *Report) { r.Error = err.Error() })
			// Compensation gets a fresh context; the boot one may be what expired.
			s.compensate(context.WithoutCancel(ctx), lastCompleted, res)
			return fmt.Errorf("boot step %s: %w", step.ID(), err)
		}
		lastCompleted = i
	}

	s.finish(StateCompleted)
	s.logger.Info("Boot completed")
	return nil
}

// Report returns a copy of the current boot record
func (s *Sequence) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.report
	r.Steps = append([]StepExecution(nil), s.report.Steps...)
	return r
}

func (s *Sequence) executeStep(ctx context.Context, i int, step Step, res *Resources) error {
	started := time.Now()
	s.update(func(r *Report) {
		r.Steps[i].State = StepStateRunning
		r.Steps[i].StartedAt = &started
	})

	result := step.Execute(ctx, res)
	completed := time.Now()

	if !result.Success {
		if result.Error == nil {
			result.Error = fmt.Errorf("step %s reported failure", step.ID())
		}
		s.update(func(r *Report) {
			r.Steps[i].State = StepStateFailed
			r.Steps[i].CompletedAt = &completed
			r.Steps[i].Error = result.Error.Error()
		})
		return result.Error
	}

	s.update(func(r *Report) {
		r.Steps[i].State = StepStateCompleted
		r.Steps[i].CompletedAt = &completed
		r.Steps[i].Result = result.Data
	})
	s.logger.Info("Step completed",
		zap.String("stepID", string(step.ID())),
		zap.Duration("took", completed.Sub(started)))
	return nil
}

func (s *Sequence) compensate(ctx context.Context, lastCompleted int, res *Resources) {
	for i := lastCompleted; i >= 0; i-- {
		step := s.steps[i]
		s.logger.Info("Compensating step", zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx, res); err != nil {
			s.logger.Error("Compensation failed",
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}
		s.update(func(r *Report) { r.Steps[i].State = StepStateCompensated })
	}

	s.finish(StateCompensated)
	s.logger.Info("Boot compensated")
}

func (s *Sequence) finish(state State) {
	now := time.Now()
	s.update(func(r *Report) {
		r.State = state
		r.CompletedAt = &now
	})
}

func (s *Sequence) update(fn func(r *Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.report)
}
