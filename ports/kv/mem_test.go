package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	ctx := t.Context()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	type payload struct {
		Email string `json:"email"`
	}

	require.NoError(t, Put(ctx, s, "k1", payload{Email: "a@x.com"}, PutOptions{}))

	got, err := Get[payload](ctx, s, "k1")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", got.Email)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, err = s.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)
}
