package nats

import (
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/userstream-go/core/es"
)

func testEnvelope(aggType, aggID, eventType string, version es.Version) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Type:          eventType,
		AggregateType: aggType,
		AggregateID:   aggID,
		Version:       version,
		OccurredAt:    time.Now(),
		Data:          []byte(`{}`),
	}
}

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	store, err := NewEventStore(EventStoreConfig{Connect: NewTestContainer(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStore_AppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	res, err := store.Append(ctx, "user", "jane@corp.com", es.NoStream, []es.Envelope{
		testEnvelope("user", "jane@corp.com", "Created", 1),
		testEnvelope("user", "jane@corp.com", "EmailConfirmed", 2),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.LastSeq)
	require.Equal(t, es.Version(2), res.LastVersion)

	loaded, err := store.Load(ctx, "user", "jane@corp.com")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, es.Version(1), loaded[0].Version)
	require.Equal(t, "Created", loaded[0].Type)
	require.Equal(t, "jane@corp.com", loaded[0].AggregateID)
	require.False(t, loaded[0].CommitAt.IsZero())
	require.True(t, loaded[0].CommitAt.Before(loaded[1].CommitAt) ||
		loaded[0].CommitAt.Equal(loaded[1].CommitAt))

	t.Run("partial load from version", func(t *testing.T) {
		suffix, err := store.Load(ctx, "user", "jane@corp.com", es.WithStartVersion(2))
		require.NoError(t, err)
		require.Len(t, suffix, 1)
		require.Equal(t, es.Version(2), suffix[0].Version)
	})

	t.Run("missing stream", func(t *testing.T) {
		_, err := store.Load(ctx, "user", "nobody@corp.com")
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})
}

func TestEventStore_ConcurrencyGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Append(ctx, "user", "a@x.com", es.NoStream, []es.Envelope{
		testEnvelope("user", "a@x.com", "Created", 1),
	})
	require.NoError(t, err)

	t.Run("duplicate create", func(t *testing.T) {
		_, err := store.Append(ctx, "user", "a@x.com", es.NoStream, []es.Envelope{
			testEnvelope("user", "a@x.com", "Created", 1),
		})
		require.ErrorIs(t, err, es.ErrStreamExists)
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})

	t.Run("stale version", func(t *testing.T) {
		_, err := store.Append(ctx, "user", "a@x.com", es.Version(5), []es.Envelope{
			testEnvelope("user", "a@x.com", "RoleGranted", 6),
		})
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})

	t.Run("exact version lands", func(t *testing.T) {
		res, err := store.Append(ctx, "user", "a@x.com", es.Version(1), []es.Envelope{
			testEnvelope("user", "a@x.com", "RoleGranted", 2),
		})
		require.NoError(t, err)
		require.Equal(t, es.Version(2), res.LastVersion)
	})

	t.Run("any version opt-in", func(t *testing.T) {
		res, err := store.Append(ctx, "user", "a@x.com", es.AnyVersion, []es.Envelope{
			testEnvelope("user", "a@x.com", "RoleGranted", 1),
		})
		require.NoError(t, err)
		require.Equal(t, es.Version(3), res.LastVersion)
	})

	t.Run("racing creates", func(t *testing.T) {
		// both writers observe no stream before either commits; the
		// loser must see ErrStreamExists whether it fails the read-side
		// guard or the expected-sequence publish
		start := make(chan struct{})
		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				<-start
				_, err := store.Append(ctx, "user", "race@x.com", es.NoStream, []es.Envelope{
					testEnvelope("user", "race@x.com", "Created", 1),
				})
				errs <- err
			}()
		}
		close(start)

		got := []error{<-errs, <-errs}
		if got[0] == nil {
			got[0], got[1] = got[1], got[0]
		}
		require.ErrorIs(t, got[0], es.ErrStreamExists)
		require.NoError(t, got[1])
	})
}

func TestLostRaceError(t *testing.T) {
	err := lostRaceError("user-a@x.com", es.NoStream, true)
	require.ErrorIs(t, err, es.ErrStreamExists)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	err = lostRaceError("user-a@x.com", es.Version(3), true)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.NotErrorIs(t, err, es.ErrStreamExists)

	err = lostRaceError("user-a@x.com", es.NoStream, false)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.NotErrorIs(t, err, es.ErrStreamExists)
}

func TestEventStore_Subscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	_, err := store.Append(ctx, "user", "a@x.com", es.NoStream, []es.Envelope{
		testEnvelope("user", "a@x.com", "Created", 1),
	})
	require.NoError(t, err)

	sub, err := store.Subscribe(ctx, es.WithDeliverPolicy(es.DeliverAllPolicy))
	require.NoError(t, err)
	defer sub.Cancel()
	require.Equal(t, uint64(1), sub.MaxSequence())

	recv := func() es.Envelope {
		select {
		case e := <-sub.Chan():
			return e
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for envelope")
			return es.Envelope{}
		}
	}

	first := recv()
	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, "Created", first.Type)

	// live delivery after catch-up
	_, err = store.Append(ctx, "user", "b@x.com", es.NoStream, []es.Envelope{
		testEnvelope("user", "b@x.com", "Created", 1),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), recv().Seq)
}

func TestEventStore_CancelWhileDelivering(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	envs := make([]es.Envelope, 0, 20)
	for i := range cap(envs) {
		envs = append(envs, testEnvelope("user", "a@x.com", "RoleGranted", es.Version(i+1)))
	}
	_, err := store.Append(ctx, "user", "a@x.com", es.NoStream, envs)
	require.NoError(t, err)

	// cancel mid-catch-up; delivery must wind down without the
	// subscription channel ever seeing a send after close
	sub, err := store.Subscribe(ctx, es.WithDeliverPolicy(es.DeliverAllPolicy))
	require.NoError(t, err)
	<-sub.Chan()
	sub.Cancel()

	for range sub.Chan() {
	}
}

func TestSubjectToken(t *testing.T) {
	tok := SubjectToken("jane.doe@corp.com")
	require.Len(t, tok, 32)
	require.NotContains(t, tok, ".")
	require.NotContains(t, tok, "@")
	require.Equal(t, tok, SubjectToken("jane.doe@corp.com"))
	require.NotEqual(t, tok, SubjectToken("john.doe@corp.com"))
}
