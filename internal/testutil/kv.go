package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrStorageUnavailable is returned by FailingKV.
var ErrStorageUnavailable = errors.New("storage unavailable")

// MemoryKV is a map-backed store.KeyValue.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string][]byte
	puts   int
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	m.puts++
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Has reports whether key is present.
func (m *MemoryKV) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

// Puts returns the number of successful Put calls.
func (m *MemoryKV) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// FailingKV fails every call with ErrStorageUnavailable.
type FailingKV struct{}

func (FailingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ErrStorageUnavailable
}

func (FailingKV) Put(context.Context, string, []byte) error {
	return ErrStorageUnavailable
}

func (FailingKV) Delete(context.Context, string) error {
	return ErrStorageUnavailable
}

// ReadOnlyKV serves reads from an underlying MemoryKV and fails every write
// with ErrStorageUnavailable.
type ReadOnlyKV struct {
	*MemoryKV
}

// NewReadOnlyKV wraps kv, which may be nil for an empty store.
func NewReadOnlyKV(kv *MemoryKV) ReadOnlyKV {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return ReadOnlyKV{MemoryKV: kv}
}

func (ReadOnlyKV) Put(context.Context, string, []byte) error {
	return ErrStorageUnavailable
}

func (ReadOnlyKV) Delete(context.Context, string) error {
	return ErrStorageUnavailable
}
