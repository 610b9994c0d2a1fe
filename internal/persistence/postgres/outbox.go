package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Teemukoivumaa/bikeApp/internal/events"
)

// EventMetadata describes how an outbox event is routed.
type EventMetadata struct {
	Topic         string
	AggregateType string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeRideSynced: {
		Topic:         "ride_events",
		AggregateType: "activity",
	},
	events.TypeChallengeCompleted: {
		Topic:         "challenge_events",
		AggregateType: "challenge",
	},
}

// insertOutbox records one event row inside the caller's transaction. The
// dedupe key ties the event to its aggregate so a replayed write collapses
// onto the existing row.
func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		meta.AggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		aggregateID,
		body,
		dedupeKey,
	)
	return err
}
