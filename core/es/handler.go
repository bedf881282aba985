package es

import (
	"context"
	"log/slog"
	"time"
)

// MsgCtx carries one committed event through a handler chain: the
// envelope, the decoded payload, and whether the consumer had already
// caught up when the event arrived.
type MsgCtx struct {
	ctx  context.Context
	env  Envelope
	evt  any
	live bool
}

func NewMsgCtx(ctx context.Context, env Envelope, evt any, live bool) *MsgCtx {
	return &MsgCtx{ctx: ctx, env: env, evt: evt, live: live}
}

func (m *MsgCtx) Context() context.Context { return m.ctx }
func (m *MsgCtx) Envelope() Envelope       { return m.env }

// Event is the decoded payload, a pointer to the registered event type.
func (m *MsgCtx) Event() any { return m.evt }

func (m *MsgCtx) Seq() uint64         { return m.env.Seq }
func (m *MsgCtx) CommitAt() time.Time { return m.env.CommitAt }

// Live reports whether the event was received after catch-up completed,
// i.e. it is new work rather than replayed history. Side-effecting
// handlers (reactors) must check this before acting.
func (m *MsgCtx) Live() bool { return m.live }

type Handler interface {
	Handle(msg *MsgCtx) error
}

type HandleFunc func(msg *MsgCtx) error

func (f HandleFunc) Handle(msg *MsgCtx) error { return f(msg) }

// Middleware wraps a Handler. Middlewares run in the order given to
// Chain, outermost first.
type Middleware func(next Handler) Handler

func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NewLogMiddleware logs every handled event at debug level.
func NewLogMiddleware(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandleFunc(func(msg *MsgCtx) error {
			err := next.Handle(msg)
			log.Debug("event handled",
				slog.String("event_id", msg.env.ID),
				slog.String("event_type", msg.env.Type),
				slog.String("stream", msg.env.StreamID()),
				slog.Uint64("seq", msg.env.Seq),
				slog.Bool("live", msg.live),
				slog.Any("error", err),
			)
			return err
		})
	}
}

// NewCheckpointMiddleware persists the sequence of every successfully
// handled event so the consumer resumes where it left off.
func NewCheckpointMiddleware(cp CpStore) Middleware {
	return func(next Handler) Handler {
		return HandleFunc(func(msg *MsgCtx) error {
			if err := next.Handle(msg); err != nil {
				return err
			}
			return cp.Set(msg.env.Seq)
		})
	}
}
