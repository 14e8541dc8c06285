package analytics

import (
	"context"
	"log"

	"github.com/okorolenko/substack-digest-bot/types"
)

// Recorder logs lifecycle events into the append-only event store. Writes are
// best effort: a failed append is logged and never propagated, so reporting
// problems cannot fail a subscription transition.
type Recorder struct {
	events types.EventStore
}

func NewRecorder(events types.EventStore) *Recorder {
	return &Recorder{events: events}
}

func (r *Recorder) Record(ctx context.Context, userID int64, kind, detail string) {
	if err := r.events.AppendEvent(ctx, userID, kind, detail); err != nil {
		log.Printf("analytics: failed to append %s event for user %d: %v", kind, userID, err)
	}
}

// Stats is the owner-facing aggregate. Unlike Record, read failures propagate:
// a zeroed report would be indistinguishable from an empty install.
func (r *Recorder) Stats(ctx context.Context) (*types.Stats, error) {
	return r.events.Stats(ctx)
}
