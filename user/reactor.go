package user

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codewandler/userstream-go/core/es"
)

// Mailer delivers confirmation emails. The reactor only needs the send;
// rendering and transport live behind this port.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
}

// LogMailer logs instead of sending, for development and tests.
type LogMailer struct {
	Log *slog.Logger
}

func (m *LogMailer) SendConfirmation(_ context.Context, email, token string) error {
	m.Log.Info("confirmation email",
		slog.String("email", email),
		slog.String("token", token),
	)
	return nil
}

// ConfirmationEmailReactor reacts to new users: it mints a token, mails
// it out and records it on the stream. It acts on live events only;
// replayed history must never re-send an email.
type ConfirmationEmailReactor struct {
	log    *slog.Logger
	svc    *Service
	mailer Mailer
}

func NewConfirmationEmailReactor(log *slog.Logger, svc *Service, mailer Mailer) *ConfirmationEmailReactor {
	return &ConfirmationEmailReactor{
		log:    log.With(slog.String("reactor", "user-confirmation")),
		svc:    svc,
		mailer: mailer,
	}
}

func (r *ConfirmationEmailReactor) Name() string { return "user-confirmation" }

func (r *ConfirmationEmailReactor) Handle(msg *es.MsgCtx) error {
	if !msg.Live() {
		return nil
	}
	ev, ok, err := es.TryDecode[Created](msg.Envelope())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	token := uuid.NewString()
	ctx := msg.Context()
	if err := r.mailer.SendConfirmation(ctx, ev.Email, token); err != nil {
		return err
	}
	if _, err := r.svc.StoreConfirmationToken(ctx, ev.Email, token); err != nil {
		return err
	}
	r.log.Info("confirmation token issued", slog.String("email", ev.Email))
	return nil
}

var _ es.Projection = (*ConfirmationEmailReactor)(nil)
