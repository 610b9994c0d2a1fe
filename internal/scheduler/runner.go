// Package scheduler drains the deferred task table and materialises the next
// occurrence of completed recurring challenges.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/persistence/postgres"
)

// TaskSource claims due deferred tasks and finishes them inside the claiming
// transaction.
type TaskSource interface {
	ClaimDue(ctx context.Context, limit int) (pgx.Tx, []postgres.Task, error)
	Complete(ctx context.Context, tx pgx.Tx, taskID int64) error
}

// SuccessorStore inserts the successor challenge within the claiming
// transaction.
type SuccessorStore interface {
	CreateInTx(ctx context.Context, tx pgx.Tx, c domain.Challenge) (int64, error)
}

// Option configures optional behaviour for the Runner.
type Option func(*Runner)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// Runner polls for due tasks and creates the follow-up challenge each task
// describes. Task completion and successor creation share one transaction, so
// a crash mid-batch replays the task instead of losing or doubling it.
type Runner struct {
	tasks            TaskSource
	challenges       SuccessorStore
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewRunner constructs a Runner.
func NewRunner(tasks TaskSource, challenges SuccessorStore, pollInterval time.Duration, batchSize int, opts ...Option) *Runner {
	r := &Runner{
		tasks:            tasks,
		challenges:       challenges,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.New(log.Writer(), "[scheduler] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the polling loop. It should be called in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer func() {
		ticker.Stop()
		close(r.shutdownComplete)
	}()

	for {
		if err := r.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("task batch failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the runner has stopped.
func (r *Runner) Wait() {
	<-r.shutdownComplete
}

// ProcessBatch claims one batch of due tasks and materialises their
// successors.
func (r *Runner) ProcessBatch(ctx context.Context) error {
	tx, tasks, err := r.tasks.ClaimDue(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	defer tx.Rollback(ctx)

	for _, task := range tasks {
		if err := r.runTask(ctx, tx, task); err != nil {
			return fmt.Errorf("task %s: %w", task.Key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observeTasks(len(tasks))
	return nil
}

func (r *Runner) runTask(ctx context.Context, tx pgx.Tx, task postgres.Task) error {
	var completed domain.Challenge
	if err := json.Unmarshal(task.Payload, &completed); err != nil {
		// An undecodable payload would wedge the queue; drop it.
		r.logger.Printf("dropping malformed task %s: %v", task.Key, err)
		return r.tasks.Complete(ctx, tx, task.ID)
	}

	successor, err := completed.Successor()
	if err != nil {
		r.logger.Printf("dropping task %s: %v", task.Key, err)
		return r.tasks.Complete(ctx, tx, task.ID)
	}

	id, err := r.challenges.CreateInTx(ctx, tx, successor)
	if err != nil {
		return err
	}
	r.logger.Printf("challenge %d succeeded by %d (%s .. %s)",
		completed.ID, id, successor.StartDate.Format("2006-01-02"), successor.EndDate.Format("2006-01-02"))

	return r.tasks.Complete(ctx, tx, task.ID)
}
