// Package storagetest provides an in-memory storage.ImageStore.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonathan/appraisal-agent/internal/storage"
)

// Object is a stored image.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is a concurrency-safe in-memory image store. Presigned URLs have the
// form BaseURL + key.
type Store struct {
	BaseURL string
	// PutErr, when set, fails every upload.
	PutErr error

	mu      sync.Mutex
	objects map[string]Object
	deleted []string
}

// New creates an empty store.
func New() *Store {
	return &Store{BaseURL: "https://images.test/", objects: make(map[string]Object)}
}

func (s *Store) PutImage(_ context.Context, key string, data []byte, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (s *Store) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	return s.BaseURL + key, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

// Get returns a stored object.
func (s *Store) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys returns the keys currently stored.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// Deleted returns the keys removed so far, in order.
func (s *Store) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

var _ storage.ImageStore = (*Store)(nil)
