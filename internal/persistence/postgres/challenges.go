package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/events"
)

const challengeColumns = `id, name, description, goal, current_progress, unit,
        start_date, end_date, is_active, is_completed, recurring`

// ChallengeRepository is the Postgres implementation of
// domain.ChallengeRepository. A progress write that flips a challenge to
// completed records a challenge.completed outbox row in the same transaction.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository constructs a ChallengeRepository.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

const insertChallenge = `INSERT INTO challenges
        (name, description, goal, current_progress, unit, start_date, end_date, is_active, is_completed, recurring)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id`

// Create inserts a challenge and returns its assigned id.
func (r *ChallengeRepository) Create(ctx context.Context, c domain.Challenge) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	return createChallenge(ctx, conn, c)
}

// CreateInTx inserts a challenge inside the caller's transaction. The task
// runner uses this so a successor insert commits atomically with the task
// completion that produced it.
func (r *ChallengeRepository) CreateInTx(ctx context.Context, tx pgx.Tx, c domain.Challenge) (int64, error) {
	return createChallenge(ctx, tx, c)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createChallenge(ctx context.Context, q rowQuerier, c domain.Challenge) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, insertChallenge,
		c.Name, c.Description, c.Goal, c.CurrentProgress, c.Unit,
		c.StartDate, c.EndDate, c.IsActive, c.IsCompleted, nullIfEmpty(string(c.Recurring)),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the challenge by id, nil when none exists.
func (r *ChallengeRepository) Get(ctx context.Context, id int64) (*domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id=$1`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	c, err := scanChallenge(conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListAll returns every challenge ordered by start date, newest first.
func (r *ChallengeRepository) ListAll(ctx context.Context) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges ORDER BY start_date DESC, id DESC`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

// UpdateProgress writes the derived progress state. When the write flips
// is_completed from false to true it also records the completion event and,
// when one is supplied, the successor task, so the progress update, its
// announcement and the follow-up all commit atomically.
func (r *ChallengeRepository) UpdateProgress(ctx context.Context, id int64, progress float64, completed bool, successor *domain.DeferredTask) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id=$1 FOR UPDATE`
	current, err := scanChallenge(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrChallengeNotFound
		}
		return err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE challenges SET current_progress=$2, is_completed=$3 WHERE id=$1`,
		id, progress, completed,
	); err != nil {
		return err
	}

	if completed && !current.IsCompleted {
		if err = insertOutbox(ctx, tx, events.TypeChallengeCompleted, strconv.FormatInt(id, 10), events.ChallengeCompleted{
			EventID:     uuid.NewString(),
			ChallengeID: id,
			Name:        current.Name,
			Goal:        current.Goal,
			Progress:    progress,
			Unit:        string(current.Unit),
			EndDate:     current.EndDate,
			CompletedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if successor != nil {
			if err = scheduleTaskInTx(ctx, tx, successor.Key, successor.Payload); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// DeleteByID removes a challenge.
func (r *ChallengeRepository) DeleteByID(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM challenges WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChallengeNotFound
	}
	return nil
}

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var c domain.Challenge
	var recurring *string
	if err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.Goal, &c.CurrentProgress, &c.Unit,
		&c.StartDate, &c.EndDate, &c.IsActive, &c.IsCompleted, &recurring,
	); err != nil {
		return nil, err
	}
	if recurring != nil {
		c.Recurring = domain.RecurrenceInterval(*recurring)
	}
	return &c, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
