package domain

import (
	"context"
	"fmt"
	"time"
)

// ChallengeUnit is the measure a challenge goal is expressed in.
type ChallengeUnit string

const (
	UnitKilometers   ChallengeUnit = "km"
	UnitMiles        ChallengeUnit = "miles"
	UnitHours        ChallengeUnit = "hours"
	UnitMinutes      ChallengeUnit = "minutes"
	UnitMetersAscent ChallengeUnit = "m ascent"
	UnitRides        ChallengeUnit = "rides"
	UnitKcal         ChallengeUnit = "kcal"
)

// RecurrenceInterval describes how a completed challenge repeats.
type RecurrenceInterval string

const (
	RecurWeekly  RecurrenceInterval = "Weekly"
	RecurMonthly RecurrenceInterval = "Monthly"
	RecurYearly  RecurrenceInterval = "Yearly"
)

const metersPerMile = 1609.344

// Challenge is a user-defined, time-boxed numeric goal tracked against the
// ingested activities. CurrentProgress and IsCompleted are derived state owned
// by the progress engine; nothing else writes them.
type Challenge struct {
	ID              int64
	Name            string
	Description     string
	Goal            float64
	CurrentProgress float64
	Unit            ChallengeUnit
	StartDate       time.Time
	EndDate         time.Time
	IsActive        bool
	IsCompleted     bool
	Recurring       RecurrenceInterval // empty when one-shot
}

// Matches reports whether the activity's start falls inside the challenge
// window, inclusive on both ends.
func (c Challenge) Matches(a Activity) bool {
	return !a.StartDate.Before(c.StartDate) && !a.StartDate.After(c.EndDate)
}

// Measure returns the activity's contribution to the challenge in the
// challenge's unit.
func (c Challenge) Measure(a Activity) float64 {
	switch c.Unit {
	case UnitKilometers:
		return a.DistanceMeters / 1000
	case UnitMiles:
		return a.DistanceMeters / metersPerMile
	case UnitHours:
		return float64(a.MovingTimeSec) / 3600
	case UnitMinutes:
		return float64(a.MovingTimeSec) / 60
	case UnitMetersAscent:
		return a.TotalElevationGain
	case UnitRides:
		return 1
	case UnitKcal:
		if a.Calories == nil {
			return 0
		}
		return *a.Calories
	default:
		return a.DistanceMeters
	}
}

// NextWindow computes the successor window for a recurring challenge: the new
// start is the day after the previous end, and the new end is one
// week/month/year later minus a day. Calendar arithmetic, so a Monthly
// challenge ending 2024-01-31 yields 2024-02-01..2024-02-29.
func (c Challenge) NextWindow() (start, end time.Time, err error) {
	start = c.EndDate.AddDate(0, 0, 1)
	switch c.Recurring {
	case RecurWeekly:
		end = start.AddDate(0, 0, 6)
	case RecurMonthly:
		end = start.AddDate(0, 1, -1)
	case RecurYearly:
		end = start.AddDate(1, 0, -1)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("challenge %d: unknown recurrence %q", c.ID, c.Recurring)
	}
	return start, end, nil
}

// Successor builds the next occurrence: fresh window, reset progress, same
// name/description/goal/unit/recurrence. The id is left zero for the store to
// assign.
func (c Challenge) Successor() (Challenge, error) {
	start, end, err := c.NextWindow()
	if err != nil {
		return Challenge{}, err
	}
	next := c
	next.ID = 0
	next.StartDate = start
	next.EndDate = end
	next.CurrentProgress = 0
	next.IsCompleted = false
	next.IsActive = true
	return next, nil
}

// DeferredTask is a durably stored unit of deferred work. Scheduling a key
// that already exists replaces the earlier payload.
type DeferredTask struct {
	Key     string
	Payload []byte
}

// ChallengeRepository captures persistence operations for challenges.
// UpdateProgress writes the successor task, when one is supplied and the write
// flips the challenge to completed, in the same transaction as the progress
// update.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge Challenge) (int64, error)
	Get(ctx context.Context, id int64) (*Challenge, error)
	ListAll(ctx context.Context) ([]Challenge, error)
	UpdateProgress(ctx context.Context, id int64, progress float64, completed bool, successor *DeferredTask) error
	DeleteByID(ctx context.Context, id int64) error
}
