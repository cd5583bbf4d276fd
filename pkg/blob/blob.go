// Package blob provides content hashing and the content-addressed blob
// boundary for payloads too large to inline in the action log.
package blob

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"
)

const (
	// InlineThreshold is the largest payload carried inline in an action.
	// Larger content is stored by reference only.
	InlineThreshold = 1024 * 1024 // 1MB
)

// HashContent returns the stable hex digest used for integrity checks and
// conflict version identity.
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data matches the expected digest.
func Verify(data []byte, hash string) bool {
	return HashContent(data) == hash
}

// Store is the content-addressed storage boundary. The engine stores only
// references for oversized payloads; the bytes live behind this interface
// (IPFS/Pinata in production, Memory in tests).
type Store interface {
	// Put stores data and returns its content hash.
	Put(data []byte) (string, error)
	// Get retrieves data by content hash.
	Get(hash string) ([]byte, error)
	// Has reports whether a blob exists.
	Has(hash string) (bool, error)
}

// Memory is an in-process Store used by tests and the demo CLI. Payloads are
// gzip-compressed when that actually shrinks them.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data       []byte
	compressed bool
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Put(data []byte) (string, error) {
	hash := HashContent(data)

	stored := data
	compressed := false
	if packed, err := compress(data); err == nil && len(packed) < len(data) {
		stored = packed
		compressed = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = memoryBlob{data: stored, compressed: compressed}
	}
	return hash, nil
}

func (m *Memory) Get(hash string) ([]byte, error) {
	m.mu.RLock()
	b, ok := m.blobs[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s not found", hash)
	}
	if !b.compressed {
		return append([]byte(nil), b.data...), nil
	}
	data, err := decompress(b.data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %w", hash, err)
	}
	return data, nil
}

func (m *Memory) Has(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[hash]
	return ok, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
