package inbox

import (
	"context"
	"sync"
	"time"
)

// MemoryNonces is a process-local NonceGuard.
type MemoryNonces struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	claims int
}

// NewMemoryNonces creates an empty guard.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

// Claim implements NonceGuard. Expired entries are pruned every 256 claims.
func (m *MemoryNonces) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.claims++
	if m.claims%256 == 0 {
		for n, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, n)
			}
		}
	}
	if exp, ok := m.seen[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[nonce] = now.Add(ttl)
	return true, nil
}
