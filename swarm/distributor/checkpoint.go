package distributor

import (
	"sync"
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// checkpointMonitor counts checkpoint intervals that pass without a report.
// A nil monitor is valid and records nothing.
type checkpointMonitor struct {
	mu          sync.Mutex
	reported    bool
	misses      int
	consecutive int
	anomalies   []types.AnomalyReport

	stopOnce sync.Once
	stopCh   chan struct{}
}

// startMonitor runs a monitor when p's grant requires checkpoints.
// Called with d.mu held.
func (d *Distributor) startMonitor(p *pendingTask) *checkpointMonitor {
	mon := p.grant.Monitoring
	if !mon.RequireCheckpoints || mon.CheckpointIntervalMs <= 0 {
		return nil
	}
	m := &checkpointMonitor{stopCh: make(chan struct{})}
	taskID, peer := p.taskID, p.peer
	interval := time.Duration(mon.CheckpointIntervalMs) * time.Millisecond
	go m.run(interval, func(consecutive int) types.AnomalyReport {
		return d.deps.Detector.CheckpointMissed(taskID, peer, consecutive)
	})
	return m
}

func (m *checkpointMonitor) run(interval time.Duration, onMiss func(consecutive int) types.AnomalyReport) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.mu.Lock()
			if m.reported {
				m.reported = false
				m.consecutive = 0
				m.mu.Unlock()
				continue
			}
			m.misses++
			m.consecutive++
			consecutive := m.consecutive
			m.mu.Unlock()

			rep := onMiss(consecutive)
			m.mu.Lock()
			m.anomalies = append(m.anomalies, rep)
			m.mu.Unlock()
		}
	}
}

func (m *checkpointMonitor) record() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reported = true
	m.mu.Unlock()
}

func (m *checkpointMonitor) missCount() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses
}

// stop ends the monitor and returns its miss count and anomalies.
func (m *checkpointMonitor) stop() (int, []types.AnomalyReport) {
	if m == nil {
		return 0, nil
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses, append([]types.AnomalyReport(nil), m.anomalies...)
}

// RecordCheckpoint notes a progress report for the active delegation whose
// current task id is taskID.
func (d *Distributor) RecordCheckpoint(taskID string) bool {
	d.mu.Lock()
	p, ok := d.tasks[taskID]
	if !ok || p.state != stateActive {
		d.mu.Unlock()
		return false
	}
	m := p.monitor
	d.mu.Unlock()
	m.record()
	return true
}
