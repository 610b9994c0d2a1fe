// Package events defines the payloads published through the transactional
// outbox.
package events

import "time"

// Event type names, also carried as the event_type message header.
const (
	TypeRideSynced         = "ride.synced"
	TypeChallengeCompleted = "challenge.completed"
)

// RideSynced is published for every newly ingested activity.
type RideSynced struct {
	EventID        string    `json:"event_id"`
	ActivityID     int64     `json:"activity_id"`
	ExternalID     string    `json:"external_id"`
	Name           string    `json:"name"`
	SportType      string    `json:"sport_type"`
	DistanceMeters float64   `json:"distance_meters"`
	MovingTimeSec  int       `json:"moving_time_sec"`
	StartDate      time.Time `json:"start_date"`
}

// ChallengeCompleted is published when a challenge first reaches its goal.
type ChallengeCompleted struct {
	EventID     string    `json:"event_id"`
	ChallengeID int64     `json:"challenge_id"`
	Name        string    `json:"name"`
	Goal        float64   `json:"goal"`
	Progress    float64   `json:"progress"`
	Unit        string    `json:"unit"`
	EndDate     time.Time `json:"end_date"`
	CompletedAt time.Time `json:"completed_at"`
}
