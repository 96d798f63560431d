package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/BaSui01/agentswarm/types"
)

const (
	resultDomain      = "swarm-result/v1"
	attestationDomain = "swarm-attestation/v1"
)

type canonicalFinding struct {
	Title   string `json:"title"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

type canonicalResultPayload struct {
	Domain        string             `json:"domain"`
	TaskID        string             `json:"task_id"`
	PeerNodeID    string             `json:"peer_node_id"`
	PeerSessionID string             `json:"peer_session_id"`
	Status        string             `json:"status"`
	Findings      []canonicalFinding `json:"findings"`
	TokensUsed    int64              `json:"tokens_used"`
	CostUSD       float64            `json:"cost_usd"`
	DurationMs    int64              `json:"duration_ms"`
}

type canonicalAttestationPayload struct {
	Domain       string `json:"domain"`
	Swarm        string `json:"swarm"`
	TaskID       string `json:"task_id"`
	PeerNodeID   string `json:"peer_node_id"`
	Status       string `json:"status"`
	FindingsHash string `json:"findings_hash"`
	TimestampMs  int64  `json:"timestamp_ms"`
	PublicKey    string `json:"public_key"`
}

func canonicalFindings(findings []types.Finding) []canonicalFinding {
	out := make([]canonicalFinding, len(findings))
	for i, f := range findings {
		out[i] = canonicalFinding(f)
	}
	return out
}

// canonicalResult excludes the attestation chain; it is signed separately.
func canonicalResult(r *types.SwarmTaskResult) []byte {
	payload := canonicalResultPayload{
		Domain:        resultDomain,
		TaskID:        r.TaskID,
		PeerNodeID:    r.PeerNodeID,
		PeerSessionID: r.PeerSessionID,
		Status:        string(r.Status),
		Findings:      canonicalFindings(r.Findings),
		TokensUsed:    r.TokensUsed,
		CostUSD:       r.CostUSD,
		DurationMs:    r.DurationMs,
	}
	b, _ := json.Marshal(payload)
	return b
}

func canonicalAttestation(a *types.TaskAttestation, token string) []byte {
	payload := canonicalAttestationPayload{
		Domain:       attestationDomain,
		Swarm:        swarmDigest(token),
		TaskID:       a.TaskID,
		PeerNodeID:   a.PeerNodeID,
		Status:       string(a.Status),
		FindingsHash: a.FindingsHash,
		TimestampMs:  a.Timestamp.UnixMilli(),
		PublicKey:    a.PublicKey,
	}
	b, _ := json.Marshal(payload)
	return b
}

// swarmDigest binds signatures to a swarm without embedding the token itself.
func swarmDigest(token string) string {
	sum := sha256.Sum256([]byte("swarm-token:" + token))
	return hex.EncodeToString(sum[:])
}

// HashFindings returns the hex SHA-256 of the canonical findings list.
func HashFindings(findings []types.Finding) string {
	b, _ := json.Marshal(canonicalFindings(findings))
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
