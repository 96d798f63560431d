package rootcause

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/types"
)

// Cause is a diagnosed root cause.
type Cause string

const (
	CauseMaliciousBehavior      Cause = "malicious_behavior"
	CauseNetworkPartition       Cause = "network_partition"
	CausePeerOverload           Cause = "peer_overload"
	CauseTaskComplexityMismatch Cause = "task_complexity_mismatch"
	CauseResourceExhaustion     Cause = "resource_exhaustion"
	CauseTransientFailure       Cause = "transient_failure"
	CauseUnknown                Cause = "unknown"
)

// Response is a remediation the delegator can take.
type Response string

const (
	ResponseQuarantineAndRedelegate Response = "quarantine_and_redelegate"
	ResponseRedelegate              Response = "redelegate_to_alternative"
	ResponseDecomposeAndRedelegate  Response = "decompose_and_redelegate"
	ResponseWaitAndRetry            Response = "wait_and_retry"
	ResponseEscalateToHuman         Response = "escalate_to_human"
	ResponseAbortTask               Response = "abort_task"
)

// Diagnosis is the analyzer's verdict. It is never mutated after creation.
type Diagnosis struct {
	ID                  string     `json:"id"`
	TaskID              string     `json:"task_id"`
	PeerNodeID          string     `json:"peer_node_id"`
	RootCause           Cause      `json:"root_cause"`
	Confidence          float64    `json:"confidence"`
	RecommendedResponse Response   `json:"recommended_response"`
	Alternatives        []Response `json:"alternative_responses"`
	Evidence            []string   `json:"evidence"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Input is what the analyzer knows about a failed delegation.
type Input struct {
	TaskID           string
	PeerNodeID       string
	CheckpointMisses int
	Anomalies        []types.AnomalyReport
	FailureCount     int
	TaskAttributes   *types.TaskAttributes
}

// Config tunes the diagnostic thresholds.
type Config struct {
	CheckpointMissThreshold int     `json:"checkpoint_miss_threshold" yaml:"checkpoint_miss_threshold"`
	OverloadLatencyRatio    float64 `json:"overload_latency_ratio" yaml:"overload_latency_ratio"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{CheckpointMissThreshold: 3, OverloadLatencyRatio: 3.0}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.CheckpointMissThreshold < 1 {
		return fmt.Errorf("checkpoint_miss_threshold must be >= 1, got %d", c.CheckpointMissThreshold)
	}
	if c.OverloadLatencyRatio <= 1 {
		return fmt.Errorf("overload_latency_ratio must be > 1, got %v", c.OverloadLatencyRatio)
	}
	return nil
}

// PeerLookup reports a peer's current liveness and latency.
type PeerLookup interface {
	GetPeer(nodeID string) (types.PeerEntry, bool)
}

// HistorySource supplies a peer's reputation history.
type HistorySource interface {
	GetReputation(nodeID string) (reputation.PeerReputation, bool)
}

// Analyzer diagnoses delegation failures.
type Analyzer struct {
	config  Config
	peers   PeerLookup
	history HistorySource
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnalyzer creates an analyzer. peers and history may be nil, in which
// case the rules that need them never match.
func NewAnalyzer(config Config, peers PeerLookup, history HistorySource, emitter events.Emitter, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckpointMissThreshold <= 0 {
		config.CheckpointMissThreshold = DefaultConfig().CheckpointMissThreshold
	}
	if config.OverloadLatencyRatio <= 0 {
		config.OverloadLatencyRatio = DefaultConfig().OverloadLatencyRatio
	}
	return &Analyzer{
		config:  config,
		peers:   peers,
		history: history,
		emitter: emitter,
		logger:  logger.With(zap.String("component", "root_cause_analyzer")),
		now:     time.Now,
	}
}

// Diagnose walks the priority ladder and returns the first matching cause.
// It always returns a diagnosis; unknown is the fallback.
func (a *Analyzer) Diagnose(in Input) Diagnosis {
	d := a.evaluate(in)
	d.ID = uuid.NewString()
	d.TaskID = in.TaskID
	d.PeerNodeID = in.PeerNodeID
	d.Timestamp = a.now()

	if err := events.Emit(a.emitter, events.KindRootCauseDiagnosed, events.Fields{
		"task_id":              d.TaskID,
		"peer_node_id":         d.PeerNodeID,
		"root_cause":           string(d.RootCause),
		"confidence":           d.Confidence,
		"recommended_response": string(d.RecommendedResponse),
	}); err != nil {
		a.logger.Debug("emit failed", zap.Error(err))
	}
	a.logger.Info("root cause diagnosed",
		zap.String("task_id", d.TaskID),
		zap.String("peer", d.PeerNodeID),
		zap.String("root_cause", string(d.RootCause)),
		zap.Float64("confidence", d.Confidence),
	)
	return d
}

func (a *Analyzer) evaluate(in Input) Diagnosis {
	counts := countAnomalies(in.Anomalies)

	// 1. malicious behaviour
	if n := counts[types.AnomalySuspiciousFindings] + counts[types.AnomalyDataAccessViolation]; n >= 2 {
		return Diagnosis{
			RootCause:           CauseMaliciousBehavior,
			Confidence:          0.9,
			RecommendedResponse: ResponseQuarantineAndRedelegate,
			Alternatives:        []Response{ResponseAbortTask, ResponseEscalateToHuman},
			Evidence:            []string{fmt.Sprintf("%d integrity anomalies (suspicious findings or data access violations)", n)},
		}
	}

	var (
		peer      types.PeerEntry
		peerKnown bool
	)
	if a.peers != nil {
		peer, peerKnown = a.peers.GetPeer(in.PeerNodeID)
	}

	// 2. network partition
	if peerKnown && (peer.Status == types.PeerStatusSuspected || peer.Status == types.PeerStatusUnreachable) &&
		in.CheckpointMisses >= a.config.CheckpointMissThreshold {
		return Diagnosis{
			RootCause:           CauseNetworkPartition,
			Confidence:          0.7,
			RecommendedResponse: ResponseWaitAndRetry,
			Alternatives:        []Response{ResponseRedelegate},
			Evidence: []string{
				fmt.Sprintf("peer status %s", peer.Status),
				fmt.Sprintf("%d checkpoint misses (threshold %d)", in.CheckpointMisses, a.config.CheckpointMissThreshold),
			},
		}
	}

	// 3. peer overload: the newest exchange latency against the peer's baseline
	if peerKnown && a.history != nil {
		if rep, ok := a.history.GetReputation(in.PeerNodeID); ok && rep.AvgLatencyMs > 0 {
			ratio := float64(peer.LastLatencyMs) / rep.AvgLatencyMs
			if ratio >= a.config.OverloadLatencyRatio {
				confidence := 0.7
				evidence := []string{fmt.Sprintf("exchange latency %dms is %.1fx the %.0fms baseline", peer.LastLatencyMs, ratio, rep.AvgLatencyMs)}
				if counts[types.AnomalyDurationSpike] > 0 {
					confidence = 0.8
					evidence = append(evidence, "duration spike observed")
				}
				return Diagnosis{
					RootCause:           CausePeerOverload,
					Confidence:          confidence,
					RecommendedResponse: ResponseRedelegate,
					Alternatives:        []Response{ResponseWaitAndRetry},
					Evidence:            evidence,
				}
			}
		}
	}

	// 4. complexity mismatch
	if in.TaskAttributes != nil && in.TaskAttributes.Complexity == types.LevelHigh && in.FailureCount >= 2 {
		return Diagnosis{
			RootCause:           CauseTaskComplexityMismatch,
			Confidence:          0.7,
			RecommendedResponse: ResponseDecomposeAndRedelegate,
			Alternatives:        []Response{ResponseRedelegate, ResponseEscalateToHuman},
			Evidence:            []string{fmt.Sprintf("high complexity task failed %d times", in.FailureCount)},
		}
	}

	// 5. resource exhaustion
	if counts[types.AnomalyCostSpike] > 0 {
		return Diagnosis{
			RootCause:           CauseResourceExhaustion,
			Confidence:          0.7,
			RecommendedResponse: ResponseEscalateToHuman,
			Alternatives:        []Response{ResponseRedelegate, ResponseAbortTask},
			Evidence:            []string{fmt.Sprintf("%d cost spike anomalies", counts[types.AnomalyCostSpike])},
		}
	}

	// 6. transient failure
	if in.FailureCount == 1 && len(in.Anomalies) == 0 {
		return Diagnosis{
			RootCause:           CauseTransientFailure,
			Confidence:          0.5,
			RecommendedResponse: ResponseRedelegate,
			Alternatives:        []Response{ResponseWaitAndRetry},
			Evidence:            []string{"single failure without anomalies"},
		}
	}

	return Diagnosis{
		RootCause:           CauseUnknown,
		Confidence:          0.3,
		RecommendedResponse: ResponseEscalateToHuman,
		Alternatives:        []Response{ResponseRedelegate, ResponseAbortTask},
		Evidence: []string{
			fmt.Sprintf("%d failures, %d anomalies, %d checkpoint misses", in.FailureCount, len(in.Anomalies), in.CheckpointMisses),
		},
	}
}

// SelectResponse picks the action for d. Irreversible tasks are never
// retried automatically; critical tasks that are not fully reversible go to
// a human.
func SelectResponse(d Diagnosis, attrs *types.TaskAttributes) Response {
	if attrs == nil {
		return d.RecommendedResponse
	}
	if attrs.Reversibility == types.LevelLow {
		if d.RootCause == CauseMaliciousBehavior {
			return ResponseAbortTask
		}
		return ResponseEscalateToHuman
	}
	if attrs.Criticality == types.LevelHigh && attrs.Reversibility != types.LevelHigh {
		return ResponseEscalateToHuman
	}
	return d.RecommendedResponse
}

func countAnomalies(reports []types.AnomalyReport) map[types.AnomalyType]int {
	out := make(map[types.AnomalyType]int, len(reports))
	for _, r := range reports {
		out[r.Type]++
	}
	return out
}
