package client

import "sync"

// Fixed storage keys shared by every context (tab, window, process) that
// coordinates on the same Storage.
const (
	StorageKeyAccessToken  = "helpdesk.access_token"
	StorageKeyRefreshToken = "helpdesk.refresh_token"
	StorageKeyIdentity     = "helpdesk.identity"
)

// Storage persists session material. SetAll and Clear are atomic: a reader
// never observes a partially written session.
type Storage interface {
	Get(key string) (string, bool)
	SetAll(values map[string]string) error
	Clear() error
}

// MemoryStorage is an in-process Storage. Two Managers sharing one
// MemoryStorage behave like two tabs sharing browser storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStorage) SetAll(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return nil
}
