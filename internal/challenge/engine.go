// Package challenge recomputes challenge progress from stored activities and
// schedules the successor occurrence when a recurring challenge completes.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
)

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine derives challenge progress from the activity store. It is the sole
// writer of CurrentProgress and IsCompleted. Progress is written only when the
// derived value differs from the stored one, and a completion transition hands
// the successor task to the store so it commits atomically with the update.
type Engine struct {
	activities domain.ActivityRepository
	challenges domain.ChallengeRepository
	logger     *log.Logger
	wake       chan struct{}
}

// NewEngine constructs an Engine.
func NewEngine(activities domain.ActivityRepository, challenges domain.ChallengeRepository, opts ...Option) *Engine {
	e := &Engine{
		activities: activities,
		challenges: challenges,
		logger:     log.New(log.Writer(), "[challenge] ", log.LstdFlags),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Notify requests a recompute. Signals arriving while one is already pending
// coalesce into a single run.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs the recompute loop until the context is cancelled. Errors are
// logged; the loop keeps serving later notifications.
func (e *Engine) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
			if err := e.Recompute(ctx); err != nil {
				e.logger.Printf("recompute failed: %v", err)
			}
		}
	}
}

// Recompute loads all activities and challenges and brings every active
// challenge's derived state up to date. A failure on one challenge is logged
// and does not block the others.
func (e *Engine) Recompute(ctx context.Context) error {
	challenges, err := e.challenges.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list challenges: %w", err)
	}
	if len(challenges) == 0 {
		return nil
	}

	activities, err := e.activities.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}

	for _, c := range challenges {
		if !c.IsActive {
			continue
		}
		if err := e.recomputeOne(ctx, c, activities); err != nil {
			e.logger.Printf("challenge %d: %v", c.ID, err)
		}
	}
	observeRecompute()
	return nil
}

func (e *Engine) recomputeOne(ctx context.Context, c domain.Challenge, activities []domain.Activity) error {
	progress := 0.0
	for _, a := range activities {
		if c.Matches(a) {
			progress += c.Measure(a)
		}
	}

	// The flag tracks the formula: deleting an activity can drop progress
	// below the goal and reopen a completed challenge.
	completed := progress >= c.Goal

	if progress == c.CurrentProgress && completed == c.IsCompleted {
		return nil
	}

	var successor *domain.DeferredTask
	if completed && !c.IsCompleted && c.Recurring != "" {
		task, err := successorTask(c, progress)
		if err != nil {
			return err
		}
		successor = task
	}

	if err := e.challenges.UpdateProgress(ctx, c.ID, progress, completed, successor); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	if completed && !c.IsCompleted {
		e.logger.Printf("challenge %d %q completed at %.2f/%.2f %s", c.ID, c.Name, progress, c.Goal, c.Unit)
		observeCompletion()
	}
	return nil
}

// successorTask snapshots the completed occurrence into a deferred task. The
// key is derived from the challenge id, so re-crossing the completion edge
// replaces a still-pending task instead of duplicating it.
func successorTask(c domain.Challenge, progress float64) (*domain.DeferredTask, error) {
	snapshot := c
	snapshot.CurrentProgress = progress
	snapshot.IsCompleted = true
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return &domain.DeferredTask{
		Key:     fmt.Sprintf("challenge-successor-%d", c.ID),
		Payload: payload,
	}, nil
}
