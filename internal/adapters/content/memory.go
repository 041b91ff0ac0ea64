package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/medicrypt/medicrypt/internal/domain"
)

// MemoryStore is a content-addressed map for dev mode and tests.
// Identifiers are derived from the payload, so equal payloads share an
// identifier the way they would on a real CAS.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, name string, payload []byte) (string, error) {
	sum := sha256.Sum256(payload)
	cid := "mem-" + hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.blobs[cid] = stored
	return cid, nil
}

func (s *MemoryStore) Get(ctx context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.blobs[cid]
	if !ok {
		return nil, fmt.Errorf("content %s not found", cid)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

var (
	_ domain.ContentStore = (*MemoryStore)(nil)
	_ domain.ContentStore = (*PinataStore)(nil)
)
