package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Env bundles the moving parts of one event-sourced system: the store,
// the event registry, the repository, and the consumers running against
// the feed. It is the composition root the application wires once at
// startup.
type Env struct {
	Log      *slog.Logger
	Store    EventStore
	Registry *EventRegistry
	Metrics  Metrics

	repo        Repository
	snapshotter Snapshotter
	repoOpts    []RepositoryOption

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	consumers []*Consumer
}

type envOptions struct {
	log         *slog.Logger
	ctx         context.Context
	store       EventStore
	snapshotter Snapshotter
	metrics     Metrics
	registrars  []func(Registrar)
	repoOpts    []RepositoryOption
}

type EnvOption func(*envOptions)

func WithLog(log *slog.Logger) EnvOption {
	return func(o *envOptions) { o.log = log }
}

func WithCtx(ctx context.Context) EnvOption {
	return func(o *envOptions) { o.ctx = ctx }
}

func WithStore(store EventStore) EnvOption {
	return func(o *envOptions) { o.store = store }
}

func WithEnvSnapshotter(s Snapshotter) EnvOption {
	return func(o *envOptions) { o.snapshotter = s }
}

func WithEnvMetrics(m Metrics) EnvOption {
	return func(o *envOptions) { o.metrics = m }
}

// WithEvent registers one event type with the env's registry.
func WithEvent[T any]() EnvOption {
	return func(o *envOptions) {
		o.registrars = append(o.registrars, func(r Registrar) {
			RegisterEvents(r, Event[T]())
		})
	}
}

// WithAggregates registers the variant sets of the given aggregates.
func WithAggregates(aggs ...Aggregate) EnvOption {
	return func(o *envOptions) {
		for _, a := range aggs {
			a := a
			o.registrars = append(o.registrars, a.Register)
		}
	}
}

// WithRepositoryOptions forwards options to the env's repository.
func WithRepositoryOptions(opts ...RepositoryOption) EnvOption {
	return func(o *envOptions) { o.repoOpts = append(o.repoOpts, opts...) }
}

func NewEnv(opts ...EnvOption) (*Env, error) {
	options := envOptions{
		log:     slog.Default(),
		ctx:     context.Background(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}

	registry := NewRegistry()
	for _, reg := range options.registrars {
		reg(registry)
	}

	ctx, cancel := context.WithCancel(options.ctx)

	repoOpts := append([]RepositoryOption{WithMetrics(options.metrics)}, options.repoOpts...)
	if options.snapshotter != nil {
		repoOpts = append(repoOpts, WithSnapshotter(options.snapshotter))
	}

	env := &Env{
		Log:         options.log,
		Store:       options.store,
		Registry:    registry,
		Metrics:     options.metrics,
		snapshotter: options.snapshotter,
		repoOpts:    repoOpts,
		ctx:         ctx,
		cancel:      cancel,
	}
	env.repo = NewRepository(options.log, options.store, registry, repoOpts...)
	return env, nil
}

func (e *Env) Ctx() context.Context { return e.ctx }

func (e *Env) Repository() Repository { return e.repo }

// Snapshotter returns the configured snapshot store, nil when snapshots
// are disabled.
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }

// Append wraps raw events in envelopes and appends them with the
// exact-version guard.
func (e *Env) Append(
	ctx context.Context,
	aggType, aggID string,
	expected Version,
	events ...any,
) (*StoreAppendResult, error) {
	return AppendEvents(ctx, e.Store, aggType, aggID, expected, events...)
}

// StartConsumer wires a named catch-up consumer against the env's feed
// and starts it. The consumer is stopped on Shutdown.
func (e *Env) StartConsumer(name string, h Handler, opts ...ConsumerOption) (*Consumer, error) {
	opts = append([]ConsumerOption{WithConsumerMetrics(e.Metrics)}, opts...)
	c := NewConsumer(e.Log, name, e.Store, e.Registry, h, opts...)
	if err := c.Start(e.ctx); err != nil {
		return nil, fmt.Errorf("failed to start consumer %s: %w", name, err)
	}
	e.mu.Lock()
	e.consumers = append(e.consumers, c)
	e.mu.Unlock()
	return c, nil
}

// StartProjection runs a projection as a catch-up consumer named after
// it.
func (e *Env) StartProjection(p Projection, opts ...ConsumerOption) (*Consumer, error) {
	return e.StartConsumer(p.Name(), p, opts...)
}

// Replay folds committed history through h up to the cutoff and
// terminates.
func (e *Env) Replay(ctx context.Context, h Handler, cutoff ReplayCutoff, opts ...SubscribeOption) error {
	return Replay(ctx, e.Store, e.Registry, h, cutoff, opts...)
}

// Shutdown stops all consumers and cancels the env context.
func (e *Env) Shutdown() error {
	e.mu.Lock()
	consumers := e.consumers
	e.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		c.Stop()
		if err := c.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	e.cancel()
	return errors.Join(errs...)
}
