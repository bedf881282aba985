package es

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrStoreNoEvents = errors.New("no events to store")

// StoreLoadOpts bounds a stream read to events at or past a version and
// a global sequence (used to read forward from a snapshot baseline).
type StoreLoadOpts struct {
	StartVersion Version
	StartSeq     uint64
}

type StoreLoadOption func(*StoreLoadOpts)

func WithStartVersion(v Version) StoreLoadOption {
	return func(o *StoreLoadOpts) { o.StartVersion = v }
}

func WithStartSeq(seq uint64) StoreLoadOption {
	return func(o *StoreLoadOpts) { o.StartSeq = seq }
}

func NewStoreLoadOpts(opts ...StoreLoadOption) StoreLoadOpts {
	var options StoreLoadOpts
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type StoreAppendResult struct {
	// LastSeq is the global sequence of the last committed event.
	LastSeq uint64
	// LastVersion is the stream version after the append.
	LastVersion Version
}

// EventStore is the append-only log client. Implementations must provide
// per-stream total order, a globally ordered feed with sequence numbers
// and commit timestamps, and the conditional append guard.
type EventStore interface {
	Stream

	// Load reads one stream in order, from its start or from the bounds
	// given in opts. A stream with no events yields ErrAggregateNotFound.
	Load(ctx context.Context, aggType, aggID string, opts ...StoreLoadOption) ([]Envelope, error)

	// Append atomically commits all events, or none, conditioned on the
	// stream's version: expected must equal the version of the last
	// committed event (NoStream for a stream that must not exist yet,
	// AnyVersion to skip the guard as a documented opt-in). A stream that
	// moved past expected yields ErrConcurrencyConflict; an existing
	// stream guarded with NoStream yields ErrStreamExists.
	Append(ctx context.Context, aggType, aggID string, expected Version, events []Envelope) (*StoreAppendResult, error)
}

// AppendEvents wraps raw domain events in envelopes and appends them
// with the exact-version guard. Versions are assigned contiguously after
// expected.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	aggType, aggID string,
	expected Version,
	events ...any,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, Envelope{
			ID:            gonanoid.Must(),
			Type:          eventTypeOf(ev),
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       expected + Version(i+1),
			OccurredAt:    time.Now(),
			Data:          data,
		})
	}
	return store.Append(ctx, aggType, aggID, expected, envelopes)
}
