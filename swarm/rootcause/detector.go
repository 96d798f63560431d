package rootcause

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/types"
)

// DetectorConfig tunes spike detection against a peer's history.
type DetectorConfig struct {
	SpikeRatio float64 `json:"spike_ratio" yaml:"spike_ratio"`
	// MinHistory is the number of recorded outcomes needed before averages
	// are compared.
	MinHistory int `json:"min_history" yaml:"min_history"`
}

// DefaultDetectorConfig flags anything 3x over the peer's average once three
// outcomes are known.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{SpikeRatio: 3.0, MinHistory: 3}
}

// Observation is one resolved delegation as seen by the detector.
type Observation struct {
	Result *types.SwarmTaskResult
	SLO    *types.ContractSLO
	// History is the peer's reputation before this result was recorded.
	History *reputation.PeerReputation
}

// Detector turns resolved results into anomaly reports.
type Detector struct {
	config  DetectorConfig
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// NewDetector creates a detector.
func NewDetector(config DetectorConfig, emitter events.Emitter, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SpikeRatio <= 1 {
		config.SpikeRatio = DefaultDetectorConfig().SpikeRatio
	}
	return &Detector{
		config:  config,
		emitter: emitter,
		logger:  logger.With(zap.String("component", "anomaly_detector")),
		now:     time.Now,
	}
}

// Detect returns every anomaly in obs and emits anomaly_detected for each.
func (d *Detector) Detect(obs Observation) []types.AnomalyReport {
	r := obs.Result
	if r == nil {
		return nil
	}

	var reports []types.AnomalyReport
	add := func(t types.AnomalyType, sev types.AnomalySeverity, format string, args ...any) {
		reports = append(reports, d.report(r.TaskID, r.PeerNodeID, t, sev, fmt.Sprintf(format, args...)))
	}

	withHistory := obs.History != nil && obs.History.TotalTasks() >= d.config.MinHistory

	switch {
	case obs.SLO != nil && obs.SLO.MaxDurationMs > 0 && r.DurationMs > obs.SLO.MaxDurationMs:
		add(types.AnomalyDurationSpike, types.SeverityMedium, "duration %dms exceeds SLO %dms", r.DurationMs, obs.SLO.MaxDurationMs)
	case withHistory && obs.History.AvgDurationMs() > 0 && float64(r.DurationMs) >= d.config.SpikeRatio*obs.History.AvgDurationMs():
		add(types.AnomalyDurationSpike, types.SeverityLow, "duration %dms is >= %.1fx average %.0fms", r.DurationMs, d.config.SpikeRatio, obs.History.AvgDurationMs())
	}

	switch {
	case obs.SLO != nil && obs.SLO.MaxCostUSD > 0 && r.CostUSD > obs.SLO.MaxCostUSD:
		add(types.AnomalyCostSpike, types.SeverityHigh, "cost $%.4f exceeds SLO $%.4f", r.CostUSD, obs.SLO.MaxCostUSD)
	case withHistory && obs.History.AvgCostUSD() > 0 && r.CostUSD >= d.config.SpikeRatio*obs.History.AvgCostUSD():
		add(types.AnomalyCostSpike, types.SeverityMedium, "cost $%.4f is >= %.1fx average $%.4f", r.CostUSD, d.config.SpikeRatio, obs.History.AvgCostUSD())
	}

	if withHistory {
		avgTokens := float64(obs.History.TotalTokensUsed) / float64(obs.History.TotalTasks())
		if avgTokens > 0 && float64(r.TokensUsed) >= d.config.SpikeRatio*avgTokens {
			add(types.AnomalyTokenSpike, types.SeverityLow, "tokens %d are >= %.1fx average %.0f", r.TokensUsed, d.config.SpikeRatio, avgTokens)
		}
	}
	if obs.SLO != nil && obs.SLO.MaxTokens > 0 && r.TokensUsed > obs.SLO.MaxTokens {
		add(types.AnomalyTokenSpike, types.SeverityMedium, "tokens %d exceed SLO %d", r.TokensUsed, obs.SLO.MaxTokens)
	}

	if r.Status == types.TaskStatusCompleted && len(r.Findings) == 0 {
		add(types.AnomalySuspiciousFindings, types.SeverityMedium, "completed task reported no findings")
	}
	if r.Status == types.TaskStatusCompleted {
		if n := contradictingFindings(r.Findings); n > 0 {
			add(types.AnomalySuspiciousFindings, types.SeverityHigh, "%d findings report failure on a completed task", n)
		}
	}

	for _, rep := range reports {
		d.Publish(rep)
	}
	return reports
}

// CheckpointMissed builds and publishes a checkpoint_missed report.
func (d *Detector) CheckpointMissed(taskID, peerNodeID string, misses int) types.AnomalyReport {
	sev := types.SeverityLow
	if misses >= 3 {
		sev = types.SeverityHigh
	}
	rep := d.report(taskID, peerNodeID, types.AnomalyCheckpointMissed, sev,
		fmt.Sprintf("%d consecutive checkpoint intervals without a report", misses))
	d.Publish(rep)
	return rep
}

// Publish emits rep as anomaly_detected.
func (d *Detector) Publish(rep types.AnomalyReport) {
	if err := events.Emit(d.emitter, events.KindAnomalyDetected, events.Fields{
		"anomaly_id":   rep.ID,
		"task_id":      rep.TaskID,
		"peer_node_id": rep.PeerNodeID,
		"type":         string(rep.Type),
		"severity":     string(rep.Severity),
		"evidence":     rep.Evidence,
	}); err != nil {
		d.logger.Debug("emit failed", zap.Error(err))
	}
}

func (d *Detector) report(taskID, peerNodeID string, t types.AnomalyType, sev types.AnomalySeverity, evidence string) types.AnomalyReport {
	return types.AnomalyReport{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		PeerNodeID: peerNodeID,
		Type:       t,
		Severity:   sev,
		Evidence:   evidence,
		Timestamp:  d.now(),
	}
}

func contradictingFindings(findings []types.Finding) int {
	n := 0
	for _, f := range findings {
		switch strings.ToLower(f.Status) {
		case "failed", "error", "aborted":
			n++
		}
	}
	return n
}
