package es

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateNotFound is returned when a stream has no events.
	ErrAggregateNotFound = errors.New("aggregate not found")
	// ErrConcurrencyConflict is returned when an append loses the
	// optimistic-concurrency race: the stream moved past the expected
	// version between hydration and commit.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStreamExists is returned when an append guarded with NoStream
	// finds the stream already created. It wraps ErrConcurrencyConflict
	// so generic conflict handling still catches it, while creation
	// call sites can report "already exists" instead of "try again".
	ErrStreamExists = fmt.Errorf("stream already exists: %w", ErrConcurrencyConflict)
	// ErrUnknownEventType is a hard decode failure: the stored type name
	// is not in the registered variant set.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrValidation is the root of all business-rule failures raised by
	// command handlers. They are reported to the caller, never retried
	// and never partially applied.
	ErrValidation = errors.New("validation failed")
)

// Applier folds events into state. Apply must be total over the
// aggregate's closed event set, perform no I/O and read no clock: two
// replays of the same events always produce the same state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the contract between a domain object and the Repository.
//
// An aggregate carries its identity (type + id), the stream version it
// was hydrated at, the global sequence of its last applied event, and the
// events raised but not yet committed. The lifecycle is: hydrate via
// Repository.Load (or start fresh), run command methods that raise
// events, then Repository.Save commits them conditioned on the hydrated
// version.
type Aggregate interface {
	// GetAggType returns the aggregate type name. Together with the id
	// it forms the stream key, e.g. "user" + "a@x.com" -> "user-a@x.com".
	GetAggType() string
	// GetID returns the natural identifier of this instance.
	GetID() string
	// SetID sets the natural identifier.
	SetID(string)

	// GetVersion returns the stream version the state reflects.
	GetVersion() Version
	setVersion(Version)

	// GetSeq returns the global sequence of the last applied event.
	GetSeq() uint64
	setSeq(uint64)

	// Register declares the aggregate's event variants with a Registrar.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply folds one event into the state.
	Apply(event any) error

	// Uncommitted returns a copy of the raised, not yet persisted events.
	Uncommitted() []any
	// ClearUncommitted drops all uncommitted events after a save.
	ClearUncommitted()
}

// BaseAggregate is the embeddable bookkeeping half of an Aggregate: it
// tracks identity, version, sequence and uncommitted events. The domain
// type supplies GetAggType, Register and Apply.
type BaseAggregate struct {
	id          string
	version     Version
	seq         uint64
	uncommitted []any
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetSeq() uint64       { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

// Raise records an event as uncommitted. Use RaiseAndApply from command
// methods so state and uncommitted events stay in step.
func (b *BaseAggregate) Raise(event any) { b.uncommitted = append(b.uncommitted, event) }

func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }

func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates the given events, then records each as
// uncommitted and folds it into the state. Command methods call this
// after their guards pass; a guard failure emits zero events.
func RaiseAndApply(a raiseApplier, events ...any) error {
	for _, e := range events {
		if v, ok := e.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", e, err)
			}
		}
	}
	for _, e := range events {
		a.Raise(e)
		if err := a.Apply(e); err != nil {
			return err
		}
	}
	return nil
}
