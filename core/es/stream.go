package es

import "context"

// DeliverPolicy selects where a subscription starts.
type DeliverPolicy string

const (
	// DeliverAllPolicy replays history from the start (catch-up), then
	// continues live.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events committed after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter narrows a subscription to an aggregate type, and
// optionally one aggregate instance. An empty field matches anything.
type SubscribeFilter struct {
	AggregateType string
	AggregateID   string
}

type SubscribeOpts struct {
	deliverPolicy DeliverPolicy
	filters       []SubscribeFilter
	startSeq      uint64
}

func (s *SubscribeOpts) DeliverPolicy() DeliverPolicy { return s.deliverPolicy }
func (s *SubscribeOpts) Filters() []SubscribeFilter   { return s.filters }
func (s *SubscribeOpts) StartSeq() uint64             { return s.startSeq }

type SubscribeOption func(*SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{deliverPolicy: DeliverNewPolicy}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(o *SubscribeOpts) { o.deliverPolicy = policy }
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(o *SubscribeOpts) { o.filters = filters }
}

// WithStartSequence skips replayed history below the given global
// sequence, e.g. when resuming from a checkpoint.
func WithStartSequence(seq uint64) SubscribeOption {
	return func(o *SubscribeOpts) { o.startSeq = seq }
}

// Subscription is a live, ordered feed of envelopes.
type Subscription interface {
	// Chan delivers envelopes in commit order.
	Chan() <-chan Envelope
	// Cancel stops delivery and releases the subscription.
	Cancel()
	// MaxSequence is the sequence of the newest committed event this
	// subscription's filters match, taken at subscribe time: the
	// watermark at which a catch-up consumer becomes live. Zero when
	// nothing matches yet.
	MaxSequence() uint64
}

// Stream is the subscription half of the event log client.
type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

func matchFilters(env Envelope, filters []SubscribeFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchFilter(env, f) {
			return true
		}
	}
	return false
}

func matchFilter(env Envelope, f SubscribeFilter) bool {
	if f.AggregateType != "" && env.AggregateType != f.AggregateType {
		return false
	}
	if f.AggregateID != "" && env.AggregateID != f.AggregateID {
		return false
	}
	return true
}
