package memory

import (
	"context"
	"io"
	"sync"
)

// BlobStore keeps written objects in a map. It implements jobs.BlobStore.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore creates an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject implements jobs.BlobStore.
func (b *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.objects[path] = data
	b.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a stored object's bytes.
func (b *BlobStore) Object(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, ok
}
