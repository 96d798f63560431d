package types

import "time"

// AnomalyType classifies an anomaly observed during a delegation.
type AnomalyType string

const (
	AnomalySuspiciousFindings  AnomalyType = "suspicious_findings"
	AnomalyDataAccessViolation AnomalyType = "data_access_violation"
	AnomalyDurationSpike       AnomalyType = "duration_spike"
	AnomalyCostSpike           AnomalyType = "cost_spike"
	AnomalyTokenSpike          AnomalyType = "token_spike"
	AnomalyCheckpointMissed    AnomalyType = "checkpoint_missed"
)

// AnomalySeverity ranks how serious an anomaly is.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// AnomalyReport is a timestamped anomaly attached to a task and peer.
type AnomalyReport struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	PeerNodeID string          `json:"peer_node_id"`
	Type       AnomalyType     `json:"type"`
	Severity   AnomalySeverity `json:"severity"`
	Evidence   string          `json:"evidence"`
	Timestamp  time.Time       `json:"timestamp"`
}
