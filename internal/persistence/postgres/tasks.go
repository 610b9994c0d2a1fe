package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task is one claimed deferred task row.
type Task struct {
	ID      int64
	Key     string
	Payload json.RawMessage
	RunAt   time.Time
}

// TaskStore persists uniquely keyed deferred tasks. Scheduling an existing
// key replaces its payload and run time rather than queueing a duplicate.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const upsertTask = `INSERT INTO deferred_tasks (task_key, payload, run_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (task_key) DO UPDATE SET payload = EXCLUDED.payload, run_at = EXCLUDED.run_at`

// ScheduleUnique upserts a task under its key, due immediately.
func (s *TaskStore) ScheduleUnique(ctx context.Context, key string, payload []byte) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, upsertTask, key, payload)
	return err
}

// scheduleTaskInTx upserts a task inside the caller's transaction.
func scheduleTaskInTx(ctx context.Context, tx pgx.Tx, key string, payload []byte) error {
	_, err := tx.Exec(ctx, upsertTask, key, payload)
	return err
}

// ClaimDue locks up to limit due tasks for the caller. Claimed rows stay
// locked for the lifetime of the returned transaction; the caller finishes
// each task through Complete and commits, or rolls back to release the claim.
func (s *TaskStore) ClaimDue(ctx context.Context, limit int) (pgx.Tx, []Task, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}

	const query = `SELECT id, task_key, payload, run_at
        FROM deferred_tasks
        WHERE run_at <= NOW()
        ORDER BY run_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Key, &t.Payload, &t.RunAt); err != nil {
			tx.Rollback(ctx)
			return nil, nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback(ctx)
		return nil, nil, err
	}

	if len(tasks) == 0 {
		tx.Rollback(ctx)
		return nil, nil, nil
	}
	return tx, tasks, nil
}

// Complete deletes a finished task inside the claiming transaction.
func (s *TaskStore) Complete(ctx context.Context, tx pgx.Tx, taskID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM deferred_tasks WHERE id=$1`, taskID)
	return err
}
