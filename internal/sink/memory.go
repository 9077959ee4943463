package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryStore keeps containers and objects in process. Used for dry runs and
// tests.
type MemoryStore struct {
	mu         sync.Mutex
	containers map[string]map[string][]byte
	creates    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) ListContainers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.containers))
	for name := range m.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) CreateContainer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[name]; ok {
		return nil
	}
	m.containers[name] = make(map[string][]byte)
	m.creates++
	return nil
}

func (m *MemoryStore) PutObject(ctx context.Context, container, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.containers[container]
	if !ok {
		return errors.Newf("container %q does not exist", container)
	}
	objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryStore) GetObject(ctx context.Context, container, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, ok := m.containers[container][key]
	if !ok {
		return nil, errors.Newf("object %s/%s not found", container, key)
	}
	return append([]byte(nil), body...), nil
}

// Keys lists the object keys in container, sorted.
func (m *MemoryStore) Keys(container string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.containers[container] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Creates counts containers actually created.
func (m *MemoryStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}
