package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/userstream-go/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

// Snapshot is a materialized aggregate state plus the stream version it
// reflects. It is a read-path optimization only: hydration always reads
// the stream forward from ObjVersion+1, so a stale or missing snapshot
// costs time, never correctness.
type Snapshot struct {
	SnapshotID string `json:"snapshot_id"`

	ObjID      string  `json:"obj_id"`
	ObjType    string  `json:"obj_type"`
	ObjVersion Version `json:"obj_version"`

	// StreamSeq is the global sequence of the last event the snapshot
	// reflects.
	StreamSeq uint64 `json:"stream_seq"`

	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
	Encoding      string    `json:"encoding"`
	Data          []byte    `json:"data"`
}

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Int("size", len(s.Data)),
	)
}

// Snapshottable lets an aggregate control its snapshot encoding. Without
// it the framework falls back to JSON marshaling of the aggregate.
type Snapshottable interface {
	Snapshot() (data []byte, err error)
	RestoreSnapshot(data []byte) error
}

// Snapshotter stores at most one snapshot per (type, id); saving
// overwrites any prior one.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error)
}

// CreateSnapshot captures the aggregate's current state together with
// the version and sequence it was hydrated at.
func CreateSnapshot(agg Aggregate) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := any(agg).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjID:         agg.GetID(),
		ObjType:       agg.GetAggType(),
		ObjVersion:    agg.GetVersion(),
		StreamSeq:     agg.GetSeq(),
		CreatedAt:     time.Now(),
		SchemaVersion: 1,
		Encoding:      "json",
		Data:          data,
	}, nil
}

// ApplySnapshot restores agg from its latest stored snapshot, setting
// version and sequence to the snapshot's baseline.
func ApplySnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) error {
	if snapshotter == nil {
		return ErrSnapshotterUnconfigured
	}
	snapshot, err := snapshotter.LoadSnapshot(ctx, agg.GetAggType(), agg.GetID())
	if err != nil {
		return err
	}
	if s, ok := any(agg).(Snapshottable); ok {
		err = s.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(snapshot.ObjVersion)
	agg.setSeq(snapshot.StreamSeq)
	return nil
}

// === In-memory snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.snapshots[StreamID(snapshot.ObjType, snapshot.ObjID)] = snapshot
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objType, objID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.snapshots[StreamID(objType, objID)]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)

// === Key-value snapshotter ===

// KeyValueSnapshotter persists snapshots in a kv.Store, e.g. the
// JetStream KV bucket from adapters/nats.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func snapshotKey(objType, objID string) string {
	return fmt.Sprintf("snapshot/%s/%s", objType, objID)
}

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return kv.Put(ctx, k.store, snapshotKey(snapshot.ObjType, snapshot.ObjID), snapshot, kv.PutOptions{})
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.store, snapshotKey(objType, objID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)
