package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	repoLoadOptions struct {
		snapshot bool
	}
	repoSaveOptions struct {
		snapshot   bool
		anyVersion bool
	}

	LoadOption interface{ applyToLoadOptions(*repoLoadOptions) }
	SaveOption interface{ applyToSaveOptions(*repoSaveOptions) }

	// SnapshotOption enables the snapshot fast path: on load, restore the
	// baseline before reading the stream suffix; on save, capture a new
	// snapshot after the append.
	SnapshotOption struct{ v bool }

	// AnyVersionOption is the documented opt-in that drops the
	// exact-version append guard. Do not use it for commands whose
	// validation depends on the hydrated state.
	AnyVersionOption struct{}
)

func WithSnapshot(v bool) SnapshotOption    { return SnapshotOption{v: v} }
func WithAnyVersionGuard() AnyVersionOption { return AnyVersionOption{} }

func (o SnapshotOption) applyToLoadOptions(opts *repoLoadOptions) { opts.snapshot = o.v }
func (o SnapshotOption) applyToSaveOptions(opts *repoSaveOptions) { opts.snapshot = o.v }
func (o AnyVersionOption) applyToSaveOptions(opts *repoSaveOptions) { opts.anyVersion = true }

// IDGenerator mints envelope ids.
type IDGenerator func() string

type (
	repoOpts struct {
		snapshotter Snapshotter
		idGenerator IDGenerator
		metrics     Metrics
		loadRetries int
	}

	RepositoryOption interface{ applyToRepository(*repoOpts) }

	SnapshotterOption struct{ v Snapshotter }
	IDGeneratorOption struct{ v IDGenerator }
	LoadRetriesOption struct{ v int }
	MetricsOption     struct{ v Metrics }
)

// WithSnapshotter wires the snapshot store used by the snapshot load and
// save paths.
func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

// WithIDGenerator overrides the envelope id generator (default: nanoid).
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }

// WithLoadRetries sets how many extra attempts a stream read gets on
// transient store failure (default 2). Typed errors are never retried.
func WithLoadRetries(n int) LoadRetriesOption { return LoadRetriesOption{v: n} }

// WithMetrics wires a metrics backend (see adapters/prometheus).
func WithMetrics(m Metrics) MetricsOption { return MetricsOption{v: m} }

func (o SnapshotterOption) applyToRepository(opts *repoOpts) { opts.snapshotter = o.v }
func (o IDGeneratorOption) applyToRepository(opts *repoOpts) { opts.idGenerator = o.v }
func (o LoadRetriesOption) applyToRepository(opts *repoOpts) { opts.loadRetries = o.v }
func (o MetricsOption) applyToRepository(opts *repoOpts)     { opts.metrics = o.v }

// Repository rehydrates aggregates from their stream and persists raised
// events with the optimistic-concurrency guard.
type Repository interface {
	Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
	Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
	CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
}

type repository struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	snapshotter Snapshotter
	idGenerator IDGenerator
	metrics     Metrics
	loadRetries int
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := repoOpts{
		idGenerator: DefaultIDGenerator(),
		metrics:     NopMetrics(),
		loadRetries: 2,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}

	return &repository{
		log:         log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		registry:    registry,
		snapshotter: options.snapshotter,
		idGenerator: options.idGenerator,
		metrics:     options.metrics,
		loadRetries: options.loadRetries,
	}
}

// Load rehydrates agg by folding its stream in order, optionally from a
// snapshot baseline. The fold is fail-fast: a decode or apply error
// aborts the rebuild, a partially folded state is never returned.
func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	loadOptions := repoLoadOptions{}
	for _, opt := range opts {
		opt.applyToLoadOptions(&loadOptions)
	}

	log := r.log.With(slog.Group("agg",
		slog.String("type", aggType),
		slog.String("id", aggID),
	))

	if loadOptions.snapshot {
		if r.snapshotter == nil {
			return ErrSnapshotterUnconfigured
		}
		t := r.metrics.SnapshotLoadDuration(aggType)
		err := ApplySnapshot(ctx, r.snapshotter, agg)
		t.ObserveDuration()
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return fmt.Errorf("failed to apply snapshot: %w", err)
		}
		if err == nil {
			log.Debug("snapshot applied", agg.GetVersion().SlogAttr(), slog.Uint64("seq", agg.GetSeq()))
		}
	}

	baseVersion := agg.GetVersion()
	loaded, err := r.loadEnvelopes(ctx, aggType, aggID,
		WithStartVersion(baseVersion+1),
		WithStartSeq(agg.GetSeq()+1),
	)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) && baseVersion != NoStream {
			// snapshot baseline with no suffix: the snapshot is current
			return nil
		}
		return err
	}

	for _, e := range loaded {
		if want := agg.GetVersion() + 1; e.Version != want {
			return fmt.Errorf("stream %s is not contiguous: expected version %d, got %d",
				e.StreamID(), want, e.Version)
		}
		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}
		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}

	if agg.GetVersion() == NoStream {
		return ErrAggregateNotFound
	}

	log.Debug("loaded", agg.GetVersion().SlogAttr(), slog.Int("num_events", len(loaded)))
	return nil
}

// loadEnvelopes reads the stream with a bounded retry on transient store
// failure. Typed outcomes (missing stream, cancelled context) are
// returned immediately.
func (r *repository) loadEnvelopes(
	ctx context.Context,
	aggType, aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	t := r.metrics.StoreLoadDuration(aggType)
	defer t.ObserveDuration()

	var lastErr error
	for attempt := 0; attempt <= r.loadRetries; attempt++ {
		loaded, err := r.store.Load(ctx, aggType, aggID, opts...)
		if err == nil {
			return loaded, nil
		}
		if errors.Is(err, ErrAggregateNotFound) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		r.log.Warn("stream read failed, retrying",
			slog.String("stream", StreamID(aggType, aggID)),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

// Save appends the aggregate's uncommitted events conditioned on the
// version it was hydrated at. All events of one command commit
// atomically or not at all.
func (r *repository) Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	saveOptions := repoSaveOptions{}
	for _, opt := range opts {
		opt.applyToSaveOptions(&saveOptions)
	}

	expected := agg.GetVersion()
	guard := expected
	if saveOptions.anyVersion {
		guard = AnyVersion
	}

	newEnvs := make([]Envelope, 0, len(uncommitted))
	for i, ev := range uncommitted {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		env := Envelope{
			ID:            r.idGenerator(),
			Type:          eventTypeOf(ev),
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       expected + Version(i+1),
			OccurredAt:    time.Now(),
			Data:          data,
		}
		if err := env.Validate(); err != nil {
			return err
		}
		newEnvs = append(newEnvs, env)
	}

	t := r.metrics.StoreAppendDuration(aggType)
	res, err := r.store.Append(ctx, aggType, aggID, guard, newEnvs)
	t.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		return fmt.Errorf("failed to save %s: %w", StreamID(aggType, aggID), err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}
	r.metrics.EventsAppended(aggType, len(newEnvs))

	agg.setSeq(res.LastSeq)
	agg.setVersion(res.LastVersion)
	agg.ClearUncommitted()

	if saveOptions.snapshot {
		if _, err := r.CreateSnapshot(ctx, agg); err != nil {
			return err
		}
	}

	r.log.Debug("saved",
		slog.Group("agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
			agg.GetVersion().SlogAttr(),
			slog.Uint64("seq", agg.GetSeq()),
		),
		slog.Int("num_events", len(newEnvs)),
	)
	return nil
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	ss, err := CreateSnapshot(agg)
	if err != nil {
		return nil, err
	}
	t := r.metrics.SnapshotSaveDuration(agg.GetAggType())
	err = r.snapshotter.SaveSnapshot(ctx, ss)
	t.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository is the generic, type-safe facade over Repository.
type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New() T
	NewWithID(id string) T
	Load(ctx context.Context, agg T, opts ...LoadOption) error
	GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
	CreateSnapshot(ctx context.Context, agg T) (*Snapshot, error)
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func NewTypedRepository[T Aggregate](
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, store, registry, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{r: r, log: log.With(slog.String("repo", fmt.Sprintf("%T", *new(T))))}
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) Load(ctx context.Context, agg T, opts ...LoadOption) error {
	return t.r.Load(ctx, agg, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) CreateSnapshot(ctx context.Context, agg T) (*Snapshot, error) {
	return t.r.CreateSnapshot(ctx, agg)
}

func (t *typedRepo[T]) GetAggType() string {
	return t.New().GetAggType()
}

// DefaultIDGenerator returns the nanoid-based envelope id generator.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}
