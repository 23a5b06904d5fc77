package testutil

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/input-output-hk/forge-release/store"
)

// Object is an object held by a MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
	PublicRead  bool
}

// MemoryStore is an in-memory store.Store. PutErr and GetErr inject
// failures for individual keys.
type MemoryStore struct {
	PutErr map[string]error
	GetErr map[string]error

	mu      sync.Mutex
	objects map[string]Object
	puts    []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		PutErr:  make(map[string]error),
		GetErr:  make(map[string]error),
		objects: make(map[string]Object),
	}
}

// Location implements store.Store.
func (m *MemoryStore) Location() store.Location {
	return store.Location{Scheme: "mem", Bucket: "test-bucket"}
}

// Get implements store.Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.GetErr[key]; err != nil {
		return nil, store.NewObjectError("get", "test-bucket", key, err)
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, store.NewObjectError("get", "test-bucket", key, store.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.Data...), nil
}

// Put implements store.Store.
func (m *MemoryStore) Put(_ context.Context, key string, body io.ReadSeeker, opts ...store.PutOption) error {
	o, err := store.ApplyPutOptions(key, body, opts...)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, key)
	if err := m.PutErr[key]; err != nil {
		return store.NewObjectError("put", "test-bucket", key, err)
	}
	m.objects[key] = Object{Data: data, ContentType: o.ContentType, PublicRead: o.PublicRead}
	return nil
}

// Set seeds an object.
func (m *MemoryStore) Set(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data}
}

// Object returns the stored object for key.
func (m *MemoryStore) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns every attempted upload key in call order, including failed ones.
func (m *MemoryStore) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

var _ store.Store = (*MemoryStore)(nil)
