package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, activities *stubActivities, challenges *stubChallenges) *Engine {
	t.Helper()
	return NewEngine(activities, challenges, WithLogger(log.New(testWriter{t}, "", 0)))
}

func TestRecomputeAggregatesMatchingActivities(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 20000},
		{StartDate: day(2024, 6, 20), DistanceMeters: 30000},
		{StartDate: day(2024, 7, 1), DistanceMeters: 99000}, // outside window
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 1, Name: "June 100", Goal: 100, Unit: domain.UnitKilometers,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true,
	}}}

	require.NoError(t, newTestEngine(t, activities, challenges).Recompute(ctx))

	require.Len(t, challenges.updates, 1)
	require.InDelta(t, 50.0, challenges.updates[0].progress, 1e-9)
	require.False(t, challenges.updates[0].completed)
	require.Nil(t, challenges.updates[0].successor)
}

func TestRecomputeWritesOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 50000},
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 1, Goal: 100, Unit: domain.UnitKilometers, CurrentProgress: 50,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true,
	}}}
	engine := newTestEngine(t, activities, challenges)

	require.NoError(t, engine.Recompute(ctx))
	require.Empty(t, challenges.updates, "unchanged progress must not be rewritten")
}

func TestCompletionEdgeSchedulesSuccessorExactlyOnce(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 120000},
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 3, Name: "June 100", Goal: 100, Unit: domain.UnitKilometers,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30),
		IsActive: true, Recurring: domain.RecurMonthly,
	}}}
	engine := newTestEngine(t, activities, challenges)

	require.NoError(t, engine.Recompute(ctx))

	require.Len(t, challenges.updates, 1)
	require.True(t, challenges.updates[0].completed)
	require.NotNil(t, challenges.updates[0].successor)
	require.Equal(t, "challenge-successor-3", challenges.updates[0].successor.Key)

	var snapshot domain.Challenge
	require.NoError(t, json.Unmarshal(challenges.updates[0].successor.Payload, &snapshot))
	require.EqualValues(t, 3, snapshot.ID)
	require.True(t, snapshot.IsCompleted)
	require.InDelta(t, 120.0, snapshot.CurrentProgress, 1e-9)
	require.Equal(t, domain.RecurMonthly, snapshot.Recurring)

	// The stored row now reflects the completion, so a second pass sees no
	// edge and writes nothing further.
	require.NoError(t, engine.Recompute(ctx))
	require.Len(t, challenges.updates, 1)
}

func TestRecomputeClearsCompletionWhenActivitiesRemoved(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 120000},
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 6, Name: "June 100", Goal: 100, Unit: domain.UnitKilometers,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true,
	}}}
	engine := newTestEngine(t, activities, challenges)

	require.NoError(t, engine.Recompute(ctx))
	require.Len(t, challenges.updates, 1)
	require.True(t, challenges.updates[0].completed)

	// Deleting the only contributing ride drops progress below the goal, so
	// the next pass reopens the challenge.
	activities.list = nil
	require.NoError(t, engine.Recompute(ctx))
	require.Len(t, challenges.updates, 2)
	require.Zero(t, challenges.updates[1].progress)
	require.False(t, challenges.updates[1].completed)
}

func TestCompletionWithoutRecurrenceSchedulesNothing(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 120000},
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 4, Goal: 100, Unit: domain.UnitKilometers,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true,
	}}}

	require.NoError(t, newTestEngine(t, activities, challenges).Recompute(ctx))
	require.Len(t, challenges.updates, 1)
	require.True(t, challenges.updates[0].completed)
	require.Nil(t, challenges.updates[0].successor)
}

func TestRecomputeSkipsInactiveChallenges(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 120000},
	}}
	challenges := &stubChallenges{list: []domain.Challenge{{
		ID: 5, Goal: 100, Unit: domain.UnitKilometers,
		StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: false,
	}}}

	require.NoError(t, newTestEngine(t, activities, challenges).Recompute(ctx))
	require.Empty(t, challenges.updates)
}

func TestRecomputeContinuesPastSingleChallengeFailure(t *testing.T) {
	ctx := context.Background()
	activities := &stubActivities{list: []domain.Activity{
		{StartDate: day(2024, 6, 5), DistanceMeters: 20000},
	}}
	challenges := &stubChallenges{
		list: []domain.Challenge{
			{ID: 1, Goal: 100, Unit: domain.UnitKilometers, StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true},
			{ID: 2, Goal: 100, Unit: domain.UnitRides, StartDate: day(2024, 6, 1), EndDate: day(2024, 6, 30), IsActive: true},
		},
		failUpdateID: 1,
	}

	require.NoError(t, newTestEngine(t, activities, challenges).Recompute(ctx))
	require.Len(t, challenges.updates, 1, "second challenge still updated")
	require.EqualValues(t, 2, challenges.updates[0].id)
}

func TestNotifyCoalescesAndStartServes(t *testing.T) {
	activities := &stubActivities{}
	challenges := &stubChallenges{}
	engine := newTestEngine(t, activities, challenges)

	engine.Notify()
	engine.Notify()
	engine.Notify()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Start(ctx) }()

	require.Eventually(t, func() bool {
		return challenges.listCalls() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 1, challenges.listCalls(), "queued signals coalesce into one pass")
}

type progressUpdate struct {
	id        int64
	progress  float64
	completed bool
	successor *domain.DeferredTask
}

type stubChallenges struct {
	mu           sync.Mutex
	list         []domain.Challenge
	updates      []progressUpdate
	failUpdateID int64
	lists        int
}

func (s *stubChallenges) Create(context.Context, domain.Challenge) (int64, error) {
	return 0, errors.New("not used")
}

func (s *stubChallenges) Get(context.Context, int64) (*domain.Challenge, error) {
	return nil, errors.New("not used")
}

func (s *stubChallenges) ListAll(context.Context) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := make([]domain.Challenge, len(s.list))
	copy(out, s.list)
	return out, nil
}

func (s *stubChallenges) UpdateProgress(_ context.Context, id int64, progress float64, completed bool, successor *domain.DeferredTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.failUpdateID {
		return errors.New("update rejected")
	}
	s.updates = append(s.updates, progressUpdate{id: id, progress: progress, completed: completed, successor: successor})
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].CurrentProgress = progress
			s.list[i].IsCompleted = completed
		}
	}
	return nil
}

func (s *stubChallenges) DeleteByID(context.Context, int64) error {
	return errors.New("not used")
}

func (s *stubChallenges) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

type stubActivities struct {
	list []domain.Activity
}

func (s *stubActivities) ListAll(context.Context) ([]domain.Activity, error) {
	return s.list, nil
}

func (s *stubActivities) GetByExternalID(context.Context, string) (*domain.Activity, error) {
	return nil, errors.New("not used")
}

func (s *stubActivities) CreateBatch(context.Context, []domain.NewActivity) ([]int64, error) {
	return nil, errors.New("not used")
}

func (s *stubActivities) Get(context.Context, int64) (*domain.Activity, error) {
	return nil, errors.New("not used")
}

func (s *stubActivities) UpdateDetails(context.Context, domain.Activity) error {
	return errors.New("not used")
}

func (s *stubActivities) DeleteByID(context.Context, int64) error {
	return errors.New("not used")
}

func (s *stubActivities) ListLocations(context.Context, int64) ([]domain.Location, error) {
	return nil, errors.New("not used")
}

func (s *stubActivities) InsertStreams(context.Context, []domain.Stream) error {
	return errors.New("not used")
}

func (s *stubActivities) ListStreams(context.Context, int64) ([]domain.Stream, error) {
	return nil, errors.New("not used")
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Logf("%s", p)
	return len(p), nil
}
