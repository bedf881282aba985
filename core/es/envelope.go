package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps one event with the metadata needed to store, order and
// decode it. It is the unit of storage and of subscription delivery.
type Envelope struct {
	// ID is the unique identifier of this envelope.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store on commit.
	// It totally orders events across all streams.
	Seq uint64 `json:"seq"`
	// Version is the per-stream version (1, 2, 3, ...) used for the
	// optimistic-concurrency guard.
	Version Version `json:"version"`
	// AggregateType names the kind of aggregate the event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID names the aggregate instance (the natural identifier).
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name used to resolve the payload variant.
	Type string `json:"type"`
	// OccurredAt is when the event was produced by the writer.
	OccurredAt time.Time `json:"occurred_at"`
	// CommitAt is when the store committed the event. Assigned by the
	// store; point-in-time queries cut off on it.
	CommitAt time.Time `json:"commit_at"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

// StreamID is the key of the stream this envelope belongs to, derived
// from the aggregate type and the natural identifier, e.g. "user-a@x.com".
func (e Envelope) StreamID() string {
	return StreamID(e.AggregateType, e.AggregateID)
}

// StreamID derives a stream key from an aggregate type and id.
func StreamID(aggType, aggID string) string {
	return aggType + "-" + aggID
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.Version == NoStream {
		return fmt.Errorf("envelope version is zero")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	return nil
}

// Decoder resolves an envelope into its typed domain event.
type Decoder interface {
	Decode(e Envelope) (any, error)
}
