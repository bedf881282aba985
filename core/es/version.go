package es

import "log/slog"

// Version is the position of the last committed event within one stream.
// The first event has Version 1; NoStream (0) means the stream does not
// exist yet. A version never decreases.
type Version uint64

const (
	// NoStream is the expected version of a stream that must not exist
	// yet. Appending with NoStream enforces the uniqueness of a natural
	// identifier: at most one stream per id is ever created.
	NoStream Version = 0

	// AnyVersion disables the optimistic-concurrency guard on append.
	// Exact-version guarding is the default; use this only when a command
	// is safe to commit against any state of the stream.
	AnyVersion Version = ^Version(0)
)

func (v Version) Uint64() uint64 { return uint64(v) }

func (v Version) SlogAttr() slog.Attr { return v.SlogAttrWithKey("version") }

func (v Version) SlogAttrWithKey(key string) slog.Attr {
	return slog.Uint64(key, uint64(v))
}
