// Package postgres provides pgx-backed persistence for activities, challenges,
// deferred tasks and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/events"
	"github.com/Teemukoivumaa/bikeApp/internal/observability"
)

const activityColumns = `id, external_id, name, description, type, sport_type, distance_m, moving_time_s, elapsed_time_s,
        start_date, end_time_display, average_speed, max_speed, total_elevation_gain, elev_high, elev_low,
        average_watts, average_heartrate, max_heartrate, calories, device_name, summary_polyline, full_detail_fetched`

// ActivityRepository is the Postgres implementation of
// domain.ActivityRepository. Batch inserts also record a ride.synced outbox
// row per activity in the same transaction.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// GetByExternalID returns the activity stored under the provider's id, nil
// when none exists.
func (r *ActivityRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE external_id=$1`
	return r.queryOne(ctx, query, externalID)
}

// Get returns the activity by local id, nil when none exists.
func (r *ActivityRepository) Get(ctx context.Context, id int64) (*domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE id=$1`
	return r.queryOne(ctx, query, id)
}

func (r *ActivityRepository) queryOne(ctx context.Context, query string, arg interface{}) (*domain.Activity, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, query, arg)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return activity, nil
}

// CreateBatch inserts the activities with their locations and one ride.synced
// outbox row each, all inside a single transaction. Returns the assigned ids
// in input order.
func (r *ActivityRepository) CreateBatch(ctx context.Context, items []domain.NewActivity) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertActivity = `INSERT INTO activities
        (external_id, name, description, type, sport_type, distance_m, moving_time_s, elapsed_time_s,
         start_date, end_time_display, average_speed, max_speed, total_elevation_gain, elev_high, elev_low,
         average_watts, average_heartrate, max_heartrate, calories, device_name, summary_polyline, full_detail_fetched)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
        RETURNING id`

	const insertLocation = `INSERT INTO activity_locations (activity_id, latitude, longitude, role)
        VALUES ($1,$2,$3,$4)`

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		a := item.Activity
		var id int64
		err = tx.QueryRow(ctx, insertActivity,
			a.ExternalID,
			a.Name,
			a.Description,
			a.Type,
			a.SportType,
			a.DistanceMeters,
			a.MovingTimeSec,
			a.ElapsedTimeSec,
			a.StartDate,
			a.EndTimeDisplay,
			a.AverageSpeed,
			a.MaxSpeed,
			a.TotalElevationGain,
			a.ElevHigh,
			a.ElevLow,
			a.AverageWatts,
			a.AverageHeartrate,
			a.MaxHeartrate,
			a.Calories,
			a.DeviceName,
			a.SummaryPolyline,
			a.FullDetailFetched,
		).Scan(&id)
		if err != nil {
			return nil, err
		}

		for _, loc := range item.Locations {
			if _, err = tx.Exec(ctx, insertLocation, id, loc.Latitude, loc.Longitude, loc.Role); err != nil {
				return nil, err
			}
		}

		if err = insertOutbox(ctx, tx, events.TypeRideSynced, strconv.FormatInt(id, 10), events.RideSynced{
			EventID:        uuid.NewString(),
			ActivityID:     id,
			ExternalID:     a.ExternalID,
			Name:           a.Name,
			SportType:      a.SportType,
			DistanceMeters: a.DistanceMeters,
			MovingTimeSec:  a.MovingTimeSec,
			StartDate:      a.StartDate,
		}); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordActivitiesPersisted(len(ids))
	return ids, nil
}

// ListAll returns every stored activity ordered by start date, newest first.
func (r *ActivityRepository) ListAll(ctx context.Context) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities ORDER BY start_date DESC, id DESC`

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

	var results []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *activity)
	}
	return results, rows.Err()
}

// UpdateDetails persists the enrichment fields of an activity.
func (r *ActivityRepository) UpdateDetails(ctx context.Context, a domain.Activity) error {
	const stmt = `UPDATE activities SET
        description=$2, calories=$3, device_name=$4, summary_polyline=$5, full_detail_fetched=$6
        WHERE id=$1`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, stmt, a.ID, a.Description, a.Calories, a.DeviceName, a.SummaryPolyline, a.FullDetailFetched)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// DeleteByID removes an activity; locations and streams cascade.
func (r *ActivityRepository) DeleteByID(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM activities WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// ListLocations returns the start/end coordinates of an activity.
func (r *ActivityRepository) ListLocations(ctx context.Context, activityID int64) ([]domain.Location, error) {
	const query = `SELECT id, activity_id, latitude, longitude, role
        FROM activity_locations WHERE activity_id=$1 ORDER BY id`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Location
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.ActivityID, &loc.Latitude, &loc.Longitude, &loc.Role); err != nil {
			return nil, err
		}
		results = append(results, loc)
	}
	return results, rows.Err()
}

// InsertStreams stores the sample series of one enrichment pass.
func (r *ActivityRepository) InsertStreams(ctx context.Context, streams []domain.Stream) error {
	if len(streams) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	// Re-running an interrupted enrichment replaces the series instead of
	// failing on the per-activity uniqueness constraint.
	const stmt = `INSERT INTO activity_streams (activity_id, type, data, series_type, original_size, resolution)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (activity_id, type) DO UPDATE
        SET data = EXCLUDED.data, series_type = EXCLUDED.series_type,
            original_size = EXCLUDED.original_size, resolution = EXCLUDED.resolution`

	for _, s := range streams {
		var data []byte
		data, err = json.Marshal(s.Data)
		if err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, stmt, s.ActivityID, s.Type, data, s.SeriesType, s.OriginalSize, s.Resolution); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListStreams returns the stored sample series of an activity.
func (r *ActivityRepository) ListStreams(ctx context.Context, activityID int64) ([]domain.Stream, error) {
	const query = `SELECT id, activity_id, type, data, series_type, original_size, resolution
        FROM activity_streams WHERE activity_id=$1 ORDER BY type`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Stream
	for rows.Next() {
		var s domain.Stream
		var data []byte
		if err := rows.Scan(&s.ID, &s.ActivityID, &s.Type, &data, &s.SeriesType, &s.OriginalSize, &s.Resolution); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return nil, fmt.Errorf("decode stream %d: %w", s.ID, err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	if err := row.Scan(
		&a.ID, &a.ExternalID, &a.Name, &a.Description, &a.Type, &a.SportType,
		&a.DistanceMeters, &a.MovingTimeSec, &a.ElapsedTimeSec,
		&a.StartDate, &a.EndTimeDisplay, &a.AverageSpeed, &a.MaxSpeed,
		&a.TotalElevationGain, &a.ElevHigh, &a.ElevLow,
		&a.AverageWatts, &a.AverageHeartrate, &a.MaxHeartrate, &a.Calories,
		&a.DeviceName, &a.SummaryPolyline, &a.FullDetailFetched,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
