package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEnv is an Env with test helpers attached. It runs on the in-memory
// store unless overridden and is shut down via t.Cleanup.
type TestEnv struct {
	*Env
	t *testing.T
}

func StartTestEnv(t *testing.T, opts ...EnvOption) *TestEnv {
	t.Helper()
	opts = append([]EnvOption{WithCtx(t.Context())}, opts...)
	env, err := NewEnv(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Shutdown() })
	return &TestEnv{Env: env, t: t}
}

func (te *TestEnv) Assert() *Assertions {
	return &Assertions{t: te.t, env: te.Env}
}

// Assertions are require-style helpers over the env.
type Assertions struct {
	t   *testing.T
	env *Env
}

// Append commits events and fails the test on error.
func (a *Assertions) Append(aggType, aggID string, expected Version, events ...any) *StoreAppendResult {
	a.t.Helper()
	res, err := a.env.Append(a.t.Context(), aggType, aggID, expected, events...)
	require.NoError(a.t, err)
	require.NotNil(a.t, res)
	return res
}

// Load reads a stream and fails the test on error.
func (a *Assertions) Load(aggType, aggID string, opts ...StoreLoadOption) []Envelope {
	a.t.Helper()
	envs, err := a.env.Store.Load(a.t.Context(), aggType, aggID, opts...)
	require.NoError(a.t, err)
	return envs
}
