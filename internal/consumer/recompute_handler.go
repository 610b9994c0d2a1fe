package consumer

import (
	"context"
	"log"

	"github.com/Teemukoivumaa/bikeApp/internal/events"
)

// ProgressEngine is the slice of the challenge engine the handler needs.
type ProgressEngine interface {
	Recompute(ctx context.Context) error
}

// RecomputeHandler reacts to ride events by recomputing challenge progress.
// Recomputation is idempotent, so handling the same event twice is harmless.
type RecomputeHandler struct {
	engine ProgressEngine
	logger *log.Logger
}

// NewRecomputeHandler constructs a RecomputeHandler.
func NewRecomputeHandler(engine ProgressEngine, logger *log.Logger) *RecomputeHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[recompute] ", log.LstdFlags)
	}
	return &RecomputeHandler{engine: engine, logger: logger}
}

// Handle triggers a recompute for ride.synced events and ignores the rest.
func (h *RecomputeHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeRideSynced {
		return nil
	}
	h.logger.Printf("ride synced (aggregate=%s), recomputing challenges", msg.AggregateID)
	return h.engine.Recompute(ctx)
}
