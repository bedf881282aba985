package es

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codewandler/userstream-go/internal/reflector"
)

// EventRegistry is the static table mapping event type names to
// constructors. It is built once at startup from the closed variant set;
// decoding never does a dynamic type lookup.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

// Decode resolves env.Type against the registered variant set and
// unmarshals the payload into a fresh instance. An unregistered type name
// wraps ErrUnknownEventType: replay must fail rather than fold a stream
// with holes in it.
func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}

var _ Decoder = (*EventRegistry)(nil)

// TryDecode is the permissive single-variant decode for subscribers that
// only care about one event type. A type-name mismatch is not an error:
// it returns (nil, false, nil). A matching name with a malformed payload
// is still a hard failure.
func TryDecode[T any](env Envelope) (*T, bool, error) {
	if env.Type != reflector.TypeInfoFor[T]().Name {
		return nil, false, nil
	}
	ev := new(T)
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, false, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
	}
	return ev, true, nil
}

// Registrar accepts event type registrations. Aggregates implement
// Register(r Registrar) to declare their variant set in one place.
type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a constructor for an event of type T. Every call of the
// returned function yields a fresh *T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers the given constructors. Each constructor is
// invoked once to derive the wire name; subsequent decodes call the
// original constructor per event.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(eventTypeOf(ctor()), ctor)
	}
}

// eventTypeOf derives the wire name of an event: an explicit
// EventType() takes precedence over the simple type name.
func eventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}
