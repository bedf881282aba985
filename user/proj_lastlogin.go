package user

import (
	"sort"
	"sync"
	"time"

	"github.com/codewandler/userstream-go/core/es"
)

// LoginRecord pairs an address with its most recent login.
type LoginRecord struct {
	Email string    `json:"email"`
	At    time.Time `json:"at"`
}

// LastLoginProjection keeps each user's most recent login per
// application, latest-wins. It decodes only the one event type it cares
// about, so it can also run against a feed without the full registry.
type LastLoginProjection struct {
	mu    sync.RWMutex
	byApp map[string]map[string]time.Time
}

func NewLastLoginProjection() *LastLoginProjection {
	return &LastLoginProjection{byApp: map[string]map[string]time.Time{}}
}

func (p *LastLoginProjection) Name() string { return "user-lastlogin" }

func (p *LastLoginProjection) Handle(msg *es.MsgCtx) error {
	ev, ok, err := es.TryDecode[LoggedIn](msg.Envelope())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	id := msg.Envelope().AggregateID
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := p.byApp[ev.Application]
	if byID == nil {
		byID = map[string]time.Time{}
		p.byApp[ev.Application] = byID
	}
	if ev.At.After(byID[id]) {
		byID[id] = ev.At
	}
	return nil
}

// Last returns one user's most recent login through an application.
func (p *LastLoginProjection) Last(application, email string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.byApp[application][NormalizeEmail(email)]
	return at, ok
}

// Logins returns every user's last login through an application, most
// recent first.
func (p *LastLoginProjection) Logins(application string) []LoginRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byID := p.byApp[application]
	out := make([]LoginRecord, 0, len(byID))
	for id, at := range byID {
		out = append(out, LoginRecord{Email: id, At: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].Email < out[j].Email
	})
	return out
}

var _ es.Projection = (*LastLoginProjection)(nil)
