package es

import (
	"context"
	"time"
)

// Projection folds committed events into a derived read model. The fold
// must be pure: same history in, same state out. Projections run inside
// a Consumer for continuous catch-up, or through Replay for bounded
// point-in-time rebuilds.
type Projection interface {
	Name() string
	Handler
}

// ReplayCutoff bounds a Replay. A zero field means unbounded on that
// axis; both bounds are inclusive.
type ReplayCutoff struct {
	Seq  uint64
	Time time.Time
}

func (c ReplayCutoff) excludes(env Envelope) bool {
	if c.Seq > 0 && env.Seq > c.Seq {
		return true
	}
	if !c.Time.IsZero() && env.CommitAt.After(c.Time) {
		return true
	}
	return false
}

// Replay folds the committed history through h in commit order and
// terminates: it stops at the cutoff, or at the last event committed
// before the call. Decode and handler errors abort the fold.
func Replay(
	ctx context.Context,
	stream Stream,
	decoder Decoder,
	h Handler,
	cutoff ReplayCutoff,
	opts ...SubscribeOption,
) error {
	opts = append(opts, WithDeliverPolicy(DeliverAllPolicy))
	sub, err := stream.Subscribe(ctx, opts...)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	watermark := sub.MaxSequence()
	if watermark == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Chan():
			if !ok {
				return nil
			}
			if cutoff.excludes(env) {
				return nil
			}
			evt, err := decoder.Decode(env)
			if err != nil {
				return err
			}
			if err := h.Handle(NewMsgCtx(ctx, env, evt, false)); err != nil {
				return err
			}
			if env.Seq >= watermark {
				return nil
			}
		}
	}
}
