package es_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/userstream-go/core/es"
)

// totalProjection folds counter increments into a running sum.
type totalProjection struct {
	Total int
}

func (p *totalProjection) Name() string { return "counter-total" }

func (p *totalProjection) Handle(msg *es.MsgCtx) error {
	if e, ok := msg.Event().(*counterIncremented); ok {
		p.Total += e.By
	}
	return nil
}

func TestReplay_FoldsFullHistoryAndTerminates(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))
	env.Assert().Append("counter", "c1", es.NoStream, &counterIncremented{By: 1})
	env.Assert().Append("counter", "c1", es.Version(1), &counterIncremented{By: 2})
	env.Assert().Append("counter", "c2", es.NoStream, &counterIncremented{By: 4})

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{}))
	require.Equal(t, 7, p.Total)
}

func TestReplay_EmptyFeed(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{}))
	require.Equal(t, 0, p.Total)
}

func TestReplay_FilteredTerminatesPastTrailingMismatch(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))
	env.Assert().Append("counter", "c1", es.NoStream, &counterIncremented{By: 3})
	// the newest committed event misses the filter below
	env.Assert().Append("visit", "v1", es.NoStream, &counterIncremented{By: 100})

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{},
		es.WithFilters(es.SubscribeFilter{AggregateType: "counter"}),
	))
	require.Equal(t, 3, p.Total)
}

func TestReplay_FilteredEmptyFeed(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))
	env.Assert().Append("visit", "v1", es.NoStream, &counterIncremented{By: 100})

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{},
		es.WithFilters(es.SubscribeFilter{AggregateType: "counter"}),
	))
	require.Equal(t, 0, p.Total)
}

func TestReplay_SeqCutoff(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))
	env.Assert().Append("counter", "c1", es.NoStream, &counterIncremented{By: 1})
	env.Assert().Append("counter", "c1", es.Version(1), &counterIncremented{By: 2})
	env.Assert().Append("counter", "c1", es.Version(2), &counterIncremented{By: 4})

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{Seq: 2}))
	require.Equal(t, 3, p.Total)
}

func TestReplay_TimeCutoff(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&counter{}))
	env.Assert().Append("counter", "c1", es.NoStream, &counterIncremented{By: 1})
	res := env.Assert().Append("counter", "c1", es.Version(1), &counterIncremented{By: 2})
	env.Assert().Append("counter", "c1", es.Version(2), &counterIncremented{By: 4})

	cut := env.Assert().Load("counter", "c1")[1].CommitAt
	require.Equal(t, uint64(2), res.LastSeq)

	p := &totalProjection{}
	require.NoError(t, env.Replay(t.Context(), p, es.ReplayCutoff{Time: cut}))
	require.Equal(t, 3, p.Total)
}

func TestReplay_DecodeFailureAborts(t *testing.T) {
	env := es.StartTestEnv(t, es.WithEvent[counterIncremented]())
	env.Assert().Append("counter", "c1", es.NoStream, &counterIncremented{By: 1})
	env.Assert().Append("counter", "c1", es.Version(1), &counterReset{})

	p := &totalProjection{}
	err := env.Replay(t.Context(), p, es.ReplayCutoff{})
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}
