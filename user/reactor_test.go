package user_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/user"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent map[string]string
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: map[string]string{}}
}

func (m *recordingMailer) SendConfirmation(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[email] = token
	return nil
}

func (m *recordingMailer) token(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.sent[email]
	return tok, ok
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestConfirmationEmailReactor(t *testing.T) {
	env, svc := newService(t, nil)
	ctx := t.Context()

	mailer := newRecordingMailer()
	reactor := user.NewConfirmationEmailReactor(env.Log, svc, mailer)
	c, err := env.StartProjection(reactor)
	require.NoError(t, err)
	require.NoError(t, c.WaitLive(ctx))

	_, err = svc.Create(ctx, "carol@x.com", "Carol", "")
	require.NoError(t, err)

	var token string
	require.Eventually(t, func() bool {
		tok, ok := mailer.token("carol@x.com")
		token = tok
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, token)

	// the minted token was stored on the stream
	require.Eventually(t, func() bool {
		v, err := svc.Get(ctx, "carol@x.com")
		return err == nil && v.Version == es.Version(2)
	}, 3*time.Second, 10*time.Millisecond)

	// the real token confirms, a wrong one does not
	_, err = svc.ConfirmEmail(ctx, "carol@x.com", "wrong")
	require.ErrorIs(t, err, user.ErrTokenMismatch)
	_, err = svc.ConfirmEmail(ctx, "carol@x.com", token)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "carol@x.com", "portal", time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Err())
}

func TestConfirmationEmailReactor_ReplayNeverResends(t *testing.T) {
	env, svc := newService(t, nil)
	ctx := t.Context()

	_, err := svc.Create(ctx, "carol@x.com", "Carol", "")
	require.NoError(t, err)

	// history replayed on startup must not trigger a second email
	mailer := newRecordingMailer()
	reactor := user.NewConfirmationEmailReactor(env.Log, svc, mailer)
	c, err := env.StartProjection(reactor)
	require.NoError(t, err)
	require.NoError(t, c.WaitLive(ctx))

	require.Equal(t, 0, mailer.count())
}
