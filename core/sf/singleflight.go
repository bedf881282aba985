// Package sf wraps golang.org/x/sync/singleflight with a typed interface.
// The read path uses it to share one stream replay between concurrent
// queries for the same aggregate.
package sf

import "golang.org/x/sync/singleflight"

// Singleflight deduplicates concurrent calls with the same key: the first
// caller runs fn, the rest block and receive the same result.
type Singleflight[T any] struct {
	group singleflight.Group
}

// New creates a Singleflight for results of type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}

// Do runs fn for key unless a call for the same key is already in flight,
// in which case it waits for that call and returns its result.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (*T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}
