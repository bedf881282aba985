package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Consumer is a catch-up subscriber: it replays committed history from
// its checkpoint (or the start), switches to live delivery at the
// watermark observed when subscribing, and feeds every event through a
// handler chain in commit order.
//
// A decode or handler failure stops the consumer. Skipping an event
// would corrupt downstream state, so the error is surfaced via Err()
// and Done() instead.
type Consumer struct {
	name    string
	log     *slog.Logger
	stream  Stream
	decoder Decoder
	handler Handler
	cp      CpStore
	metrics Metrics
	filters []SubscribeFilter

	mu      sync.Mutex
	err     error
	lastSeq uint64
	live    bool
	liveCh  chan struct{}
	done    chan struct{}
	cancel  func()
	once    sync.Once
}

type ConsumerOption func(*Consumer)

// WithConsumerCheckpoint makes the consumer resume after the last
// sequence recorded in cp. The checkpoint is advanced after each
// successfully handled event.
func WithConsumerCheckpoint(cp CpStore) ConsumerOption {
	return func(c *Consumer) { c.cp = cp }
}

func WithConsumerFilters(filters ...SubscribeFilter) ConsumerOption {
	return func(c *Consumer) { c.filters = filters }
}

func WithConsumerMetrics(m Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

func NewConsumer(
	log *slog.Logger,
	name string,
	stream Stream,
	decoder Decoder,
	handler Handler,
	opts ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		name:    name,
		log:     log.With(slog.String("consumer", name)),
		stream:  stream,
		decoder: decoder,
		handler: handler,
		metrics: NopMetrics(),
		liveCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cp != nil {
		c.handler = Chain(c.handler, NewCheckpointMiddleware(c.cp))
	}
	return c
}

// Start subscribes and begins processing. It returns once the
// subscription is established; processing continues in the background
// until Stop, context cancellation, or a failure.
func (c *Consumer) Start(ctx context.Context) error {
	var startSeq uint64
	if c.cp != nil {
		last, err := c.cp.Get()
		switch {
		case errors.Is(err, ErrCheckpointNotFound):
			// first run, replay from the start
		case err != nil:
			return fmt.Errorf("failed to read checkpoint: %w", err)
		default:
			startSeq = last + 1
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	sub, err := c.stream.Subscribe(ctx,
		WithDeliverPolicy(DeliverAllPolicy),
		WithStartSequence(startSeq),
		WithFilters(c.filters...),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	watermark := sub.MaxSequence()
	if watermark == 0 || watermark < startSeq {
		// nothing to catch up on
		c.markLive()
	} else {
		c.metrics.ConsumerLagged(c.name)
		c.metrics.ConsumerLive(c.name, false)
	}

	c.log.Info("consumer started",
		slog.Uint64("start_seq", startSeq),
		slog.Uint64("watermark", watermark),
	)

	go c.run(ctx, sub, watermark)
	return nil
}

func (c *Consumer) run(ctx context.Context, sub Subscription, watermark uint64) {
	defer close(c.done)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Chan():
			if !ok {
				return
			}
			if err := c.process(ctx, env, watermark); err != nil {
				c.fail(env, err)
				return
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, env Envelope, watermark uint64) error {
	evt, err := c.decoder.Decode(env)
	if err != nil {
		return err
	}

	// events at or below the watermark are replayed history
	live := env.Seq > watermark
	if live {
		c.markLive()
	}

	t := c.metrics.ConsumerHandleDuration(c.name)
	err = c.handler.Handle(NewMsgCtx(ctx, env, evt, live))
	t.ObserveDuration()
	if err != nil {
		return err
	}

	c.metrics.ConsumerEventsProcessed(c.name, 1)
	c.mu.Lock()
	c.lastSeq = env.Seq
	c.mu.Unlock()

	if !live && env.Seq >= watermark {
		// that was the last historical event, caught up now
		c.markLive()
	}
	return nil
}

func (c *Consumer) markLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live {
		return
	}
	c.live = true
	close(c.liveCh)
	c.metrics.ConsumerLive(c.name, true)
	c.log.Info("consumer live")
}

func (c *Consumer) fail(env Envelope, err error) {
	c.mu.Lock()
	c.err = fmt.Errorf("consumer %s stopped at seq %d (%s): %w", c.name, env.Seq, env.Type, err)
	c.mu.Unlock()
	c.log.Error("consumer stopped",
		slog.Uint64("seq", env.Seq),
		slog.String("event_type", env.Type),
		slog.Any("error", err),
	)
}

// Live reports whether catch-up has completed.
func (c *Consumer) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// WaitLive blocks until catch-up completes or ctx is done.
func (c *Consumer) WaitLive(ctx context.Context) error {
	select {
	case <-c.liveCh:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("consumer stopped before going live")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastSeq is the sequence of the last successfully handled event.
func (c *Consumer) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Err reports why the consumer stopped, nil while running or after a
// clean Stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the consumer has stopped for any reason.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Stop cancels the subscription and waits for the processing loop to
// drain.
func (c *Consumer) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	<-c.done
}
