package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/userstream-go/core/es"
)

const (
	defaultSubjectPrefix = "userstream.es"
	defaultStreamName    = "USERSTREAM_ES"

	hdrEventType     = "x-event-type"
	hdrAggregateType = "x-aggregate-type"
	hdrAggregateID   = "x-aggregate-id"
)

type EventStoreConfig struct {
	// Connect opens the NATS connection; ConnectDefault() when nil.
	Connect       Connector
	Log           *slog.Logger
	StreamName    string
	SubjectPrefix string
}

// EventStore keeps every aggregate stream on its own JetStream subject
// inside one stream. The JetStream stream sequence is the global commit
// order; per-subject expected-sequence publishing implements the
// optimistic-concurrency guard on the server.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	log.Debug("stream ensured", slog.String("subject_prefix", subjectPrefix))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	return nil
}

func (e *EventStore) subjectFor(aggType, aggID string) string {
	return e.subjectPrefix + "." + aggType + "." + SubjectToken(aggID)
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType, aggID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	loadOpts := es.NewStoreLoadOpts(opts...)
	subj := e.subjectFor(aggType, aggID)

	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, es.ErrAggregateNotFound
	}

	consumerCfg := jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	}
	if loadOpts.StartSeq > 0 {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = loadOpts.StartSeq
	}
	cc, err := e.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, err
	}

	var loaded []es.Envelope
	endSeq := last.Seq
outer:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range batch.Messages() {
			empty = false
			env, err := decodeMsg(msg)
			if err != nil {
				return nil, err
			}
			if env.Version >= loadOpts.StartVersion && env.Seq >= loadOpts.StartSeq {
				loaded = append(loaded, *env)
			}
			if env.Seq >= endSeq {
				break outer
			}
		}
		if err := batch.Error(); err != nil {
			return nil, err
		}
		if empty {
			break
		}
	}
	return loaded, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType, aggID string,
	expected es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	subj := e.subjectFor(aggType, aggID)
	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, err
	}

	var (
		curVersion  = es.NoStream
		lastSubjSeq uint64
	)
	if last != nil {
		curVersion = last.Version
		lastSubjSeq = last.Seq
	}

	if expected != es.AnyVersion {
		if expected == es.NoStream && curVersion != es.NoStream {
			return nil, fmt.Errorf("%w (stream=%s version=%d)",
				es.ErrStreamExists, es.StreamID(aggType, aggID), curVersion)
		}
		if curVersion != expected {
			return nil, fmt.Errorf(
				"%w: stream %s is at version %d, expected %d",
				es.ErrConcurrencyConflict, es.StreamID(aggType, aggID), curVersion, expected,
			)
		}
	}

	res := &es.StoreAppendResult{}
	for i, ev := range events {
		if expected == es.AnyVersion {
			ev.Version = curVersion + es.Version(i+1)
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}

		msg := natsgo.NewMsg(subj)
		msg.Header.Set(hdrEventType, ev.Type)
		msg.Header.Set(hdrAggregateType, ev.AggregateType)
		msg.Header.Set(hdrAggregateID, ev.AggregateID)
		msg.Data, err = json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		// the server rejects the publish if anything else landed on this
		// subject since we read it, so the race loser commits nothing new
		ack, err := e.js.PublishMsg(ctx, msg,
			jetstream.WithMsgID(ev.ID),
			jetstream.WithExpectLastSequencePerSubject(lastSubjSeq),
		)
		if err != nil {
			if isWrongLastSequence(err) {
				return nil, lostRaceError(es.StreamID(aggType, aggID), expected, i == 0)
			}
			return nil, fmt.Errorf("failed to append to %s (%s): %w", subj, ev.Type, err)
		}

		lastSubjSeq = ack.Sequence
		res.LastSeq = ack.Sequence
		res.LastVersion = ev.Version
	}

	e.log.Debug("append",
		slog.String("stream", es.StreamID(aggType, aggID)),
		slog.Uint64("last_seq", res.LastSeq),
		res.LastVersion.SlogAttrWithKey("last_version"),
		slog.Int("num_events", len(events)),
	)
	return res, nil
}

func (e *EventStore) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	options := es.NewSubscribeOpts(opts...)

	var filterSubjects []string
	for _, f := range options.Filters() {
		switch {
		case f.AggregateType != "" && f.AggregateID != "":
			filterSubjects = append(filterSubjects, e.subjectFor(f.AggregateType, f.AggregateID))
		case f.AggregateType != "":
			filterSubjects = append(filterSubjects, e.subjectPrefix+"."+f.AggregateType+".*")
		default:
			return nil, fmt.Errorf("invalid filter: %+v", f)
		}
	}
	if len(filterSubjects) == 0 {
		filterSubjects = []string{e.subjectPrefix + ".>"}
	}

	var maxSeq uint64
	for _, s := range filterSubjects {
		m, err := e.stream.GetLastMsgForSubject(ctx, s)
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get last message for %q: %w", s, err)
		}
		maxSeq = max(maxSeq, m.Sequence)
	}

	consumerCfg := jetstream.ConsumerConfig{
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubjects:    filterSubjects,
		InactiveThreshold: 10 * time.Minute,
	}
	if options.DeliverPolicy() == es.DeliverAllPolicy {
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
		if options.StartSeq() > 0 {
			consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
			consumerCfg.OptStartSeq = options.StartSeq()
		}
	}

	consumer, err := e.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer (filters=%v): %w", filterSubjects, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan es.Envelope, 64)

	var (
		stopOnce sync.Once
		cc       jetstream.ConsumeContext
	)
	stop := func() {
		stopOnce.Do(func() {
			// cancel first so a callback blocked on the channel send
			// unblocks, then wait for the consumer to stop completely;
			// only then is closing the channel safe
			cancel()
			if cc != nil {
				cc.Drain()
				<-cc.Closed()
			}
			close(ch)
		})
	}

	cc, err = consumer.Consume(func(msg jetstream.Msg) {
		if ctx.Err() != nil {
			return
		}
		env, err := decodeMsg(msg)
		if err != nil {
			// a broken envelope must not be skipped silently; end the
			// feed so the consumer surfaces the gap
			e.log.Error("failed to decode message, closing subscription", slog.Any("error", err))
			go stop()
			return
		}
		if err := msg.Ack(); err != nil {
			e.log.Error("failed to ack message", slog.Any("error", err))
			return
		}
		select {
		case ch <- *env:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	context.AfterFunc(ctx, stop)

	return &jsSubscription{ch: ch, stop: stop, maxSeq: maxSeq}, nil
}

// lastEnvelope reads the newest event on a subject, nil when the subject
// has none.
func (e *EventStore) lastEnvelope(ctx context.Context, subject string) (*es.Envelope, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(lm.Data, env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last message on %q: %w", subject, err)
	}
	env.Seq = lm.Sequence
	env.CommitAt = lm.Time
	return env, nil
}

func decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	env.CommitAt = md.Timestamp
	return env, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// lostRaceError types a rejected expected-sequence publish. A creator
// whose very first publish is rejected lost to another creator of the
// same stream, which callers must be able to tell apart from a plain
// lost race on an existing stream.
func lostRaceError(streamID string, expected es.Version, firstPublish bool) error {
	if expected == es.NoStream && firstPublish {
		return fmt.Errorf("%w (stream=%s)", es.ErrStreamExists, streamID)
	}
	return fmt.Errorf("%w: stream %s moved past version %d",
		es.ErrConcurrencyConflict, streamID, expected)
}

var _ es.EventStore = (*EventStore)(nil)

type jsSubscription struct {
	ch     chan es.Envelope
	stop   func()
	maxSeq uint64
}

func (s *jsSubscription) Chan() <-chan es.Envelope { return s.ch }
func (s *jsSubscription) Cancel()                  { s.stop() }
func (s *jsSubscription) MaxSequence() uint64      { return s.maxSeq }

var _ es.Subscription = (*jsSubscription)(nil)
