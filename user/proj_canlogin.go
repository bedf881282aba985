package user

import (
	"context"
	"sync"

	"github.com/codewandler/userstream-go/core/ds"
	"github.com/codewandler/userstream-go/core/es"
)

// CanLoginProjection answers "who can log in right now" across all
// users: everyone currently active whose email is confirmed. It folds
// the activation and confirmation events only and ignores the rest of
// the stream.
type CanLoginProjection struct {
	mu        sync.RWMutex
	active    *ds.Set[string]
	confirmed *ds.Set[string]
}

func NewCanLoginProjection() *CanLoginProjection {
	return &CanLoginProjection{
		active:    ds.NewSet[string](),
		confirmed: ds.NewSet[string](),
	}
}

func (p *CanLoginProjection) Name() string { return "user-canlogin" }

func (p *CanLoginProjection) Handle(msg *es.MsgCtx) error {
	env := msg.Envelope()
	if env.AggregateType != AggType {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch msg.Event().(type) {
	case *Created:
		// a fresh user starts out active
		p.active.Add(env.AggregateID)
	case *Activated:
		p.active.Add(env.AggregateID)
	case *Deactivated:
		p.active.Remove(env.AggregateID)
	case *EmailConfirmed:
		p.confirmed.Add(env.AggregateID)
	}
	return nil
}

func (p *CanLoginProjection) CanLogin(email string) bool {
	id := NormalizeEmail(email)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.Contains(id) && p.confirmed.Contains(id)
}

// Users lists the addresses that can log in, in activation order.
func (p *CanLoginProjection) Users() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.Intersect(p.confirmed).Values()
}

var _ es.Projection = (*CanLoginProjection)(nil)

// CanLoginAsOf rebuilds the projection from scratch up to the cutoff and
// returns who could log in at that point. The live projection is never
// touched.
func CanLoginAsOf(ctx context.Context, env *es.Env, cutoff es.ReplayCutoff) ([]string, error) {
	p := NewCanLoginProjection()
	if err := env.Replay(ctx, p, cutoff,
		es.WithFilters(es.SubscribeFilter{AggregateType: AggType}),
	); err != nil {
		return nil, err
	}
	return p.Users(), nil
}
