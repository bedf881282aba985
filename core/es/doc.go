// Package es implements the event-sourcing core: state is persisted as an
// ordered stream of immutable events per aggregate, and current state is
// recomputed by folding those events.
//
// # Components
//
// Aggregate: the domain object. It raises events from command methods and
// folds them in Apply to mutate state. Embed [BaseAggregate] to get
// version and uncommitted-event tracking:
//
//	type User struct {
//	    es.BaseAggregate
//	    Active bool
//	}
//
//	func (u *User) Deactivate() error {
//	    if !u.Active {
//	        return ErrAlreadyInactive
//	    }
//	    return es.RaiseAndApply(u, &Deactivated{})
//	}
//
// EventStore: the append-only log. [EventStore.Load] reads one stream in
// order, [EventStore.Append] commits new events conditioned on the
// stream's expected version (optimistic concurrency), and
// [EventStore.Subscribe] delivers the globally ordered feed, optionally
// replaying history first (catch-up). [NewInMemoryStore] is the
// test/dev implementation; adapters/nats provides the durable one.
//
// Repository: rehydrates aggregates by replaying their stream (optionally
// starting from a snapshot baseline) and persists raised events with the
// exact-version guard. A conflicting writer surfaces
// [ErrConcurrencyConflict]; the repository never retries on its own.
//
// Consumer: a catch-up subscriber that replays the global feed in commit
// order, then continues live, dispatching each decoded event to a
// [Handler]. Checkpoint middleware resumes from the last processed
// sequence after a restart. Projections build read models on top of it;
// [Replay] runs an independent, bounded fold for point-in-time queries.
//
// # Event registration
//
// The set of event variants is closed and known at startup. Decoding
// resolves type names against a static table; an unknown name is a hard
// failure, never skipped:
//
//	registry := es.NewRegistry()
//	es.RegisterEvents(registry, es.Event[Created](), es.Event[Deactivated]())
package es
