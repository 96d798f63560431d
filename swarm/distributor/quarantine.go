package distributor

import (
	"sort"
	"sync"
	"time"
)

// quarantine excludes peers from selection until an expiry.
type quarantine struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func newQuarantine(now func() time.Time) *quarantine {
	return &quarantine{until: make(map[string]time.Time), now: now}
}

func (q *quarantine) add(nodeID string, d time.Duration) time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	exp := q.now().Add(d)
	if cur, ok := q.until[nodeID]; ok && cur.After(exp) {
		return cur
	}
	q.until[nodeID] = exp
	return exp
}

func (q *quarantine) has(nodeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	exp, ok := q.until[nodeID]
	if !ok {
		return false
	}
	if !q.now().Before(exp) {
		delete(q.until, nodeID)
		return false
	}
	return true
}

func (q *quarantine) remove(nodeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.until[nodeID]
	delete(q.until, nodeID)
	return ok
}

func (q *quarantine) list() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make([]string, 0, len(q.until))
	for id, exp := range q.until {
		if now.Before(exp) {
			out = append(out, id)
		} else {
			delete(q.until, id)
		}
	}
	sort.Strings(out)
	return out
}
