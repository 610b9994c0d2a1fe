// Package domain defines the business types and persistence contracts for the
// ride sync service.
package domain

import (
	"context"
	"time"
)

// LocationRole distinguishes the start and end coordinates of an activity.
type LocationRole string

const (
	LocationRoleStart LocationRole = "Start"
	LocationRoleEnd   LocationRole = "End"
)

// Activity is a ride pulled from the remote provider and stored locally.
// ExternalID is the provider's identity and the dedup key; ID is assigned by
// the local store on insert.
type Activity struct {
	ID                 int64
	ExternalID         string
	Name               string
	Description        string
	Type               string
	SportType          string
	DistanceMeters     float64
	MovingTimeSec      int
	ElapsedTimeSec     int
	StartDate          time.Time
	EndTimeDisplay     string
	AverageSpeed       float64
	MaxSpeed           float64
	TotalElevationGain float64
	ElevHigh           float64
	ElevLow            float64
	AverageWatts       *float64
	AverageHeartrate   *float64
	MaxHeartrate       *float64
	Calories           *float64
	DeviceName         string
	SummaryPolyline    string
	FullDetailFetched  bool
}

// Location is a start or end coordinate owned by an activity. Deleting the
// activity cascades to its locations.
type Location struct {
	ID         int64
	ActivityID int64
	Latitude   float64
	Longitude  float64
	Role       LocationRole
}

// Stream is a per-activity sample series (heartrate, altitude, ...) fetched
// during detail enrichment.
type Stream struct {
	ID           int64
	ActivityID   int64
	Type         string
	Data         []float64
	SeriesType   string
	OriginalSize int
	Resolution   string
}

// NewActivity bundles an activity with its locations for batch insertion.
// Insertion of the activity and its locations is one logical unit; a partial
// failure is recovered on the next sync because locations are looked up by
// activity id, never required to exist.
type NewActivity struct {
	Activity  Activity
	Locations []Location
}

// ActivityRepository captures persistence operations for activities and their
// owned rows.
type ActivityRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Activity, error)
	CreateBatch(ctx context.Context, items []NewActivity) ([]int64, error)
	Get(ctx context.Context, id int64) (*Activity, error)
	ListAll(ctx context.Context) ([]Activity, error)
	UpdateDetails(ctx context.Context, activity Activity) error
	DeleteByID(ctx context.Context, id int64) error
	ListLocations(ctx context.Context, activityID int64) ([]Location, error)
	InsertStreams(ctx context.Context, streams []Stream) error
	ListStreams(ctx context.Context, activityID int64) ([]Stream, error)
}
