package es

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codewandler/userstream-go/ports/kv"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CpStore remembers the last global sequence a consumer has processed,
// so it can resume instead of replaying the whole feed.
type CpStore interface {
	Get() (lastSeq uint64, err error)
	Set(lastSeq uint64) error
}

type InMemCpStore struct {
	mu  sync.RWMutex
	v   uint64
	set bool
}

func NewInMemCpStore() *InMemCpStore { return &InMemCpStore{} }

func (s *InMemCpStore) Get() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return 0, ErrCheckpointNotFound
	}
	return s.v, nil
}

func (s *InMemCpStore) Set(v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	s.set = true
	return nil
}

var _ CpStore = (*InMemCpStore)(nil)

// KvCpStore persists a consumer checkpoint in a kv.Store under the
// consumer's name.
type KvCpStore struct {
	store   kv.Store
	name    string
	timeout time.Duration
}

func NewKvCpStore(store kv.Store, consumerName string) *KvCpStore {
	return &KvCpStore{store: store, name: consumerName, timeout: 5 * time.Second}
}

func (s *KvCpStore) key() string { return fmt.Sprintf("checkpoint/%s", s.name) }

func (s *KvCpStore) Get() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := kv.Get[uint64](ctx, s.store, s.key())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, ErrCheckpointNotFound
		}
		return 0, err
	}
	return v, nil
}

func (s *KvCpStore) Set(v uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return kv.Put(ctx, s.store, s.key(), v, kv.PutOptions{})
}

var _ CpStore = (*KvCpStore)(nil)
