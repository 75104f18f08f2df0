package captcha

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDuplicateID is returned by Backend.Save when the id is already held by a live challenge.
var ErrDuplicateID = errors.New("captcha: challenge id already in use")

// Backend holds issued codes until they are redeemed or expire.
type Backend interface {
	// Save stores code under id. It must refuse an id that is still live.
	Save(ctx context.Context, id, code string, createdAt time.Time) error
	// Check compares attempt with the stored code without consuming the challenge.
	Check(ctx context.Context, id, attempt string, now time.Time) (Result, error)
	// Redeem compares attempt with the stored code and removes the challenge only on a match.
	Redeem(ctx context.Context, id, attempt string, now time.Time) (Result, error)
	// Sweep drops expired challenges and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type memoryEntry struct {
	code      string
	createdAt time.Time
}

// MemoryBackend keeps challenges in process memory. A restart invalidates every
// outstanding challenge.
type MemoryBackend struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryBackend creates an in-memory backend. A non-positive ttl disables expiry.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{ttl: ttl, entries: map[string]memoryEntry{}}
}

func (m *MemoryBackend) Save(_ context.Context, id, code string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && !m.expired(e, createdAt) {
		return ErrDuplicateID
	}
	m.entries[id] = memoryEntry{code: code, createdAt: createdAt}
	return nil
}

func (m *MemoryBackend) Check(_ context.Context, id, attempt string, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || m.expired(e, now) {
		return NotFound, nil
	}
	if e.code != attempt {
		return Mismatch, nil
	}
	return Success, nil
}

func (m *MemoryBackend) Redeem(_ context.Context, id, attempt string, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return NotFound, nil
	}
	if m.expired(e, now) {
		delete(m.entries, id)
		return NotFound, nil
	}
	if e.code != attempt {
		return Mismatch, nil
	}
	delete(m.entries, id)
	return Success, nil
}

func (m *MemoryBackend) Sweep(_ context.Context, now time.Time) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) expired(e memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.createdAt) >= m.ttl
}
