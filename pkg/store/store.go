// Package store provides the durable key-value storage behind the engine.
// Files, conflicts and clock state are written through on every mutation and
// loaded fully at startup; the corpus is small enough that no streaming load
// is needed.
package store

import "errors"

// ErrKeyNotFound is returned by Get for absent keys, regardless of backend.
var ErrKeyNotFound = errors.New("key not found")

// KV is the minimal store contract. Any embedded or networked key-value
// store satisfies it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// List iterates all entries whose key has the given prefix.
	List(prefix []byte, fn func(key, value []byte) error) error

	Close() error
}
