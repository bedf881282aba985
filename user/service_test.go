package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/user"
)

func newService(t *testing.T, svcOpts []user.ServiceOption, envOpts ...es.EnvOption) (*es.TestEnv, *user.Service) {
	t.Helper()
	envOpts = append([]es.EnvOption{es.WithAggregates(&user.User{})}, envOpts...)
	env := es.StartTestEnv(t, envOpts...)
	repo := es.NewTypedRepositoryFrom[*user.User](env.Log, env.Repository())
	svc := user.NewService(env.Log, repo, svcOpts...)
	t.Cleanup(svc.Close)
	return env, svc
}

func TestService_CreateAndGet(t *testing.T) {
	_, svc := newService(t, nil)

	created, err := svc.Create(t.Context(), "Jane.Doe@Corp.com", "Jane Doe", "dep-1", "admin")
	require.NoError(t, err)
	require.Equal(t, "jane.doe@corp.com", created.Email)
	require.Equal(t, []string{"admin"}, created.Roles)
	require.Equal(t, es.Version(2), created.Version)

	// lookups are case-insensitive
	got, err := svc.Get(t.Context(), "JANE.DOE@corp.com")
	require.NoError(t, err)
	require.Equal(t, created, got)
}

func TestService_Get_NotFound(t *testing.T) {
	_, svc := newService(t, nil)

	_, err := svc.Get(t.Context(), "nobody@x.com")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestService_DuplicateIdentity(t *testing.T) {
	_, svc := newService(t, nil)

	_, err := svc.Create(t.Context(), "a@x.com", "First", "")
	require.NoError(t, err)

	_, err = svc.Create(t.Context(), "A@X.COM", "Second", "")
	require.ErrorIs(t, err, user.ErrDuplicateIdentity)

	// the first write is untouched
	got, err := svc.Get(t.Context(), "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "First", got.Name)
}

func TestService_Commands(t *testing.T) {
	_, svc := newService(t, nil)
	ctx := t.Context()

	_, err := svc.Create(ctx, "a@x.com", "Jane", "dep-1")
	require.NoError(t, err)

	v, err := svc.GrantRole(ctx, "a@x.com", "admin")
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, v.Roles)

	v, err = svc.UpdateDetails(ctx, "a@x.com", "Jane D.", "dep-2")
	require.NoError(t, err)
	require.Equal(t, "Jane D.", v.Name)
	require.Equal(t, "dep-2", v.DepartmentID)

	v, err = svc.ConfirmEmail(ctx, "a@x.com", user.CheatToken)
	require.NoError(t, err)
	require.True(t, v.EmailConfirmed)

	at := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	v, err = svc.Login(ctx, "a@x.com", "portal", at)
	require.NoError(t, err)
	require.Equal(t, at, v.LastLogins["portal"])

	v, err = svc.Deactivate(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, v.Active)

	_, err = svc.Login(ctx, "a@x.com", "portal", at.Add(time.Hour))
	require.ErrorIs(t, err, user.ErrLoginDenied)
}

func TestService_CommandOnMissingUser(t *testing.T) {
	_, svc := newService(t, nil)

	_, err := svc.GrantRole(t.Context(), "nobody@x.com", "admin")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

// flakyRepo loses the optimistic-concurrency race a fixed number of
// times before delegating.
type flakyRepo struct {
	es.TypedRepository[*user.User]
	fails int
}

func (f *flakyRepo) Save(ctx context.Context, u *user.User, opts ...es.SaveOption) error {
	if f.fails > 0 {
		f.fails--
		return es.ErrConcurrencyConflict
	}
	return f.TypedRepository.Save(ctx, u, opts...)
}

func TestService_ConflictRetries(t *testing.T) {
	env := es.StartTestEnv(t, es.WithAggregates(&user.User{}))
	repo := &flakyRepo{
		TypedRepository: es.NewTypedRepositoryFrom[*user.User](env.Log, env.Repository()),
	}

	seed := user.NewService(env.Log, repo.TypedRepository)
	_, err := seed.Create(t.Context(), "a@x.com", "Jane", "")
	require.NoError(t, err)
	seed.Close()

	t.Run("without retries the conflict surfaces", func(t *testing.T) {
		repo.fails = 1
		svc := user.NewService(env.Log, repo)
		defer svc.Close()

		_, err := svc.GrantRole(t.Context(), "a@x.com", "admin")
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})

	t.Run("with retries the command re-validates and lands", func(t *testing.T) {
		repo.fails = 2
		svc := user.NewService(env.Log, repo, user.WithConflictRetries(2))
		defer svc.Close()

		v, err := svc.GrantRole(t.Context(), "a@x.com", "auditor")
		require.NoError(t, err)
		require.Contains(t, v.Roles, "auditor")
	})
}

func TestService_Snapshot(t *testing.T) {
	snapshotter := es.NewInMemorySnapshotter()
	_, svc := newService(t,
		[]user.ServiceOption{user.WithSnapshotReads()},
		es.WithEnvSnapshotter(snapshotter),
	)
	ctx := t.Context()

	_, err := svc.Create(ctx, "a@x.com", "Jane", "dep-1")
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, "a@x.com", "admin")
	require.NoError(t, err)

	ss, err := svc.Snapshot(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, user.AggType, ss.ObjType)
	require.Equal(t, es.Version(2), ss.ObjVersion)

	// state past the snapshot is still read
	_, err = svc.ConfirmEmail(ctx, "a@x.com", user.CheatToken)
	require.NoError(t, err)

	got, err := svc.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, got.EmailConfirmed)
	require.Equal(t, []string{"admin"}, got.Roles)
	require.Equal(t, es.Version(3), got.Version)
}
