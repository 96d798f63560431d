package mesh

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

// DirectoryConfig tunes liveness tracking.
type DirectoryConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	// SuspectAfter and UnreachableAfter count missed heartbeat intervals.
	SuspectAfter     int `json:"suspect_after" yaml:"suspect_after"`
	UnreachableAfter int `json:"unreachable_after" yaml:"unreachable_after"`
	// FailureThreshold consecutive transport failures mark a peer suspected.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// EvictAfter removes unreachable peers silent for this long. Zero keeps them.
	EvictAfter time.Duration `json:"evict_after" yaml:"evict_after"`
}

// DefaultDirectoryConfig returns the standard liveness settings.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		HeartbeatInterval: 10 * time.Second,
		SuspectAfter:      3,
		UnreachableAfter:  6,
		FailureThreshold:  3,
		EvictAfter:        time.Hour,
	}
}

// DegradationHandler is called with the ids of peers that just left the
// active state.
type DegradationHandler func(nodeIDs []string)

// LatencyObserver is called with every exchange latency the directory records.
type LatencyObserver func(nodeID string, latency time.Duration)

// Directory tracks known peers and their liveness.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*types.PeerEntry
	self  string

	config     DirectoryConfig
	onDegraded []DegradationHandler
	onLatency  []LatencyObserver
	logger     *zap.Logger
	now        func() time.Time
}

// NewDirectory creates a directory. selfID is never listed as a peer.
func NewDirectory(selfID string, config DirectoryConfig, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultDirectoryConfig().HeartbeatInterval
	}
	if config.SuspectAfter <= 0 {
		config.SuspectAfter = DefaultDirectoryConfig().SuspectAfter
	}
	if config.UnreachableAfter <= config.SuspectAfter {
		config.UnreachableAfter = 2 * config.SuspectAfter
	}
	return &Directory{
		peers:  make(map[string]*types.PeerEntry),
		self:   selfID,
		config: config,
		logger: logger.With(zap.String("component", "mesh_directory")),
		now:    time.Now,
	}
}

// OnDegraded registers a degradation callback.
func (d *Directory) OnDegraded(h DegradationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDegraded = append(d.onDegraded, h)
}

// OnLatency registers a latency observer.
func (d *Directory) OnLatency(o LatencyObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLatency = append(d.onLatency, o)
}

// Heartbeat registers or refreshes a peer and marks it active.
func (d *Directory) Heartbeat(hb Heartbeat) bool {
	id := hb.Identity.NodeID
	if id == "" || id == d.self {
		return false
	}
	now := d.now()

	d.mu.Lock()
	p, ok := d.peers[id]
	if ok && p.Identity.PublicKey != "" && hb.Identity.PublicKey != p.Identity.PublicKey {
		d.mu.Unlock()
		d.logger.Warn("heartbeat with changed signing key refused", zap.String("peer", id))
		return false
	}
	if !ok {
		p = &types.PeerEntry{JoinedAt: now}
		d.peers[id] = p
		d.logger.Info("peer joined", zap.String("peer", id), zap.String("api_url", hb.Identity.APIURL))
	} else if p.Status != types.PeerStatusActive {
		d.logger.Info("peer recovered", zap.String("peer", id), zap.String("was", string(p.Status)))
	}
	p.Identity = hb.Identity
	p.Status = types.PeerStatusActive
	p.LastHeartbeatAt = now
	p.ConsecutiveFailures = 0
	var observers []LatencyObserver
	if hb.LatencyMs > 0 {
		p.LastLatencyMs = hb.LatencyMs
		observers = append(observers, d.onLatency...)
	}
	d.mu.Unlock()

	for _, o := range observers {
		o(id, time.Duration(hb.LatencyMs)*time.Millisecond)
	}
	return true
}

// Remove forgets a peer.
func (d *Directory) Remove(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, nodeID)
}

// GetPeer returns a copy of one peer.
func (d *Directory) GetPeer(nodeID string) (types.PeerEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[nodeID]
	if !ok {
		return types.PeerEntry{}, false
	}
	return clonePeer(p), true
}

// PublicKey returns the signing key a peer announced. It satisfies
// attestation.KeyResolver.
func (d *Directory) PublicKey(nodeID string) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	p, ok := d.peers[nodeID]
	var encoded string
	if ok {
		encoded = p.Identity.PublicKey
	}
	d.mu.RUnlock()
	if encoded == "" {
		return nil, false
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// GetActivePeers returns active peers ordered by node id.
func (d *Directory) GetActivePeers() []types.PeerEntry {
	return d.list(func(p *types.PeerEntry) bool { return p.Status == types.PeerStatusActive })
}

// List returns every known peer ordered by node id.
func (d *Directory) List() []types.PeerEntry {
	return d.list(func(*types.PeerEntry) bool { return true })
}

func (d *Directory) list(keep func(*types.PeerEntry) bool) []types.PeerEntry {
	d.mu.RLock()
	out := make([]types.PeerEntry, 0, len(d.peers))
	for _, p := range d.peers {
		if keep(p) {
			out = append(out, clonePeer(p))
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.NodeID < out[j].Identity.NodeID })
	return out
}

// RecordSuccess notes a successful exchange with the peer.
func (d *Directory) RecordSuccess(nodeID string, latency time.Duration) {
	d.mu.Lock()
	p, ok := d.peers[nodeID]
	if !ok {
		d.mu.Unlock()
		return
	}
	p.ConsecutiveFailures = 0
	p.LastLatencyMs = latency.Milliseconds()
	observers := append([]LatencyObserver(nil), d.onLatency...)
	d.mu.Unlock()

	for _, o := range observers {
		o(nodeID, latency)
	}
}

// RecordFailure notes a failed exchange. Crossing FailureThreshold marks an
// active peer suspected and fires the degradation callbacks.
func (d *Directory) RecordFailure(nodeID string) {
	d.mu.Lock()
	p, ok := d.peers[nodeID]
	if !ok {
		d.mu.Unlock()
		return
	}
	p.ConsecutiveFailures++
	degraded := d.config.FailureThreshold > 0 &&
		p.ConsecutiveFailures >= d.config.FailureThreshold &&
		p.Status == types.PeerStatusActive
	if degraded {
		p.Status = types.PeerStatusSuspected
	}
	handlers := append([]DegradationHandler(nil), d.onDegraded...)
	d.mu.Unlock()

	if degraded {
		d.logger.Warn("peer suspected after transport failures", zap.String("peer", nodeID))
		notify(handlers, []string{nodeID})
	}
}

// Sweep re-evaluates liveness and returns the peers that just left the
// active state.
func (d *Directory) Sweep() []string {
	now := d.now()
	interval := d.config.HeartbeatInterval
	suspectCutoff := now.Add(-time.Duration(d.config.SuspectAfter) * interval)
	unreachableCutoff := now.Add(-time.Duration(d.config.UnreachableAfter) * interval)

	d.mu.Lock()
	var degraded []string
	for id, p := range d.peers {
		switch {
		case d.config.EvictAfter > 0 && p.Status == types.PeerStatusUnreachable &&
			p.LastHeartbeatAt.Before(now.Add(-d.config.EvictAfter)):
			delete(d.peers, id)
			d.logger.Info("peer evicted", zap.String("peer", id))
		case p.LastHeartbeatAt.Before(unreachableCutoff):
			if p.Status != types.PeerStatusUnreachable {
				if p.Status == types.PeerStatusActive {
					degraded = append(degraded, id)
				}
				p.Status = types.PeerStatusUnreachable
				d.logger.Warn("peer unreachable", zap.String("peer", id))
			}
		case p.LastHeartbeatAt.Before(suspectCutoff):
			if p.Status == types.PeerStatusActive {
				p.Status = types.PeerStatusSuspected
				degraded = append(degraded, id)
				d.logger.Warn("peer suspected", zap.String("peer", id))
			}
		}
	}
	handlers := append([]DegradationHandler(nil), d.onDegraded...)
	d.mu.Unlock()

	sort.Strings(degraded)
	if len(degraded) > 0 {
		notify(handlers, degraded)
	}
	return degraded
}

// Start sweeps once per heartbeat interval until ctx is done.
func (d *Directory) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Len returns the number of known peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

func notify(handlers []DegradationHandler, ids []string) {
	for _, h := range handlers {
		h(append([]string(nil), ids...))
	}
}

func clonePeer(p *types.PeerEntry) types.PeerEntry {
	out := *p
	out.Identity.Capabilities = append([]string(nil), p.Identity.Capabilities...)
	return out
}
