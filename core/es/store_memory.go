package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const memSubscriptionBuffer = 256

// InMemoryStore is a correct (exact-version guarded, globally ordered)
// event store for tests and single-process development.
type InMemoryStore struct {
	mu         sync.Mutex
	log        *slog.Logger
	seq        uint64
	lastCommit time.Time
	global     []Envelope
	streams    map[string][]Envelope
	subs       map[string]*memSubscription
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
		subs:    map[string]*memSubscription{},
	}
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType, aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadOpts := NewStoreLoadOpts(opts...)

	events, ok := s.streams[StreamID(aggType, aggID)]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < loadOpts.StartVersion || e.Seq < loadOpts.StartSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType, aggID string,
	expected Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		key        = StreamID(aggType, aggID)
		stream     = s.streams[key]
		curVersion = NoStream
	)
	if len(stream) > 0 {
		curVersion = stream[len(stream)-1].Version
	}

	// optimistic-concurrency guard
	if expected != AnyVersion {
		if expected == NoStream && curVersion != NoStream {
			return nil, fmt.Errorf("%w (stream=%s version=%d)", ErrStreamExists, key, curVersion)
		}
		if curVersion != expected {
			return nil, fmt.Errorf(
				"%w: stream %s is at version %d, expected %d",
				ErrConcurrencyConflict, key, curVersion, expected,
			)
		}
	}

	committed := make([]Envelope, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if expected != AnyVersion {
			if want := expected + Version(i+1); e.Version != want {
				return nil, fmt.Errorf("envelope version %d is not contiguous, want %d", e.Version, want)
			}
		} else {
			e.Version = curVersion + Version(i+1)
		}

		s.seq++
		e.Seq = s.seq
		e.CommitAt = s.nextCommitTimeLocked()
		committed = append(committed, e)
	}

	s.global = append(s.global, committed...)
	s.streams[key] = append(stream, committed...)

	s.dispatchLocked(committed)

	last := committed[len(committed)-1]
	s.log.Debug(
		"append",
		slog.String("stream", key),
		slog.Uint64("last_seq", last.Seq),
		last.Version.SlogAttrWithKey("last_version"),
		slog.Int("num_events", len(committed)),
	)

	return &StoreAppendResult{LastSeq: last.Seq, LastVersion: last.Version}, nil
}

// nextCommitTimeLocked stamps strictly increasing commit times so that
// commit order and commit-time order agree, as they do in a real log.
func (s *InMemoryStore) nextCommitTimeLocked() time.Time {
	now := time.Now()
	if !now.After(s.lastCommit) {
		now = s.lastCommit.Add(time.Nanosecond)
	}
	s.lastCommit = now
	return now
}

// maxMatchingSeqLocked is the sequence of the newest committed event a
// subscription with these filters would deliver. Trailing events that
// miss the filters must not count, or a filtered catch-up would wait
// for an envelope that never arrives.
func (s *InMemoryStore) maxMatchingSeqLocked(filters []SubscribeFilter) uint64 {
	if len(filters) == 0 {
		return s.seq
	}
	for i := len(s.global) - 1; i >= 0; i-- {
		if matchFilters(s.global[i], filters) {
			return s.global[i].Seq
		}
	}
	return 0
}

func (s *InMemoryStore) dispatchLocked(events []Envelope) {
	for _, e := range events {
		for _, sub := range s.subs {
			if !matchFilters(e, sub.filters) {
				continue
			}
			select {
			case sub.ch <- e:
			case <-sub.done:
			}
		}
	}
}

func (s *InMemoryStore) Subscribe(_ context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &memSubscription{
		id:      gonanoid.Must(),
		store:   s,
		filters: options.Filters(),
		maxSeq:  s.maxMatchingSeqLocked(options.Filters()),
		ch:      make(chan Envelope, memSubscriptionBuffer),
		done:    make(chan struct{}),
	}

	if options.DeliverPolicy() == DeliverAllPolicy {
		// replay history first; the subscription goes live (receives
		// direct dispatch) only once it has caught up with the log.
		go s.replay(sub, options.StartSeq())
	} else {
		s.subs[sub.id] = sub
	}

	return sub, nil
}

// replay streams history to sub in commit order, then registers it for
// live dispatch. Registration happens under the store lock right after
// the last historical event was handed over, so no event is ever skipped
// or delivered twice.
func (s *InMemoryStore) replay(sub *memSubscription, startSeq uint64) {
	idx := 0
	for {
		s.mu.Lock()
		if idx >= len(s.global) {
			select {
			case <-sub.done:
			default:
				s.subs[sub.id] = sub
			}
			s.mu.Unlock()
			return
		}
		batch := make([]Envelope, len(s.global)-idx)
		copy(batch, s.global[idx:])
		s.mu.Unlock()

		for _, e := range batch {
			idx++
			if e.Seq < startSeq || !matchFilters(e, sub.filters) {
				continue
			}
			select {
			case sub.ch <- e:
			case <-sub.done:
				return
			}
		}
	}
}

func (s *InMemoryStore) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

var _ EventStore = (*InMemoryStore)(nil)

type memSubscription struct {
	id         string
	store      *InMemoryStore
	filters    []SubscribeFilter
	maxSeq     uint64
	ch         chan Envelope
	done       chan struct{}
	cancelOnce sync.Once
}

func (m *memSubscription) Chan() <-chan Envelope { return m.ch }
func (m *memSubscription) MaxSequence() uint64   { return m.maxSeq }

func (m *memSubscription) Cancel() {
	m.cancelOnce.Do(func() {
		close(m.done)
		m.store.unsubscribe(m.id)
	})
}

var _ Subscription = (*memSubscription)(nil)
