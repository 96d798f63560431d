package types

// TaskStatus is the terminal status a peer reports for a delegated task.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusAborted   TaskStatus = "aborted"
)

// Valid reports whether s is one of the terminal statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusAborted:
		return true
	}
	return false
}

// Finding is a single observation a peer produced while executing a task.
type Finding struct {
	Title   string `json:"title"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// TaskConstraints narrows what a delegated task may use.
// ToolAllowlist doubles as the required capability tags for peer filtering.
type TaskConstraints struct {
	ToolAllowlist []string `json:"tool_allowlist,omitempty"`
	MaxTokens     int64    `json:"max_tokens,omitempty"`
	MaxCostUSD    float64  `json:"max_cost_usd,omitempty"`
	MaxDurationMs int64    `json:"max_duration_ms,omitempty"`
	ReadonlyPaths []string `json:"readonly_paths,omitempty"`
}

// RequiredCapabilities returns the capability tags a peer must advertise.
func (c *TaskConstraints) RequiredCapabilities() []string {
	if c == nil {
		return nil
	}
	return c.ToolAllowlist
}

// SwarmTaskResult is a peer's claim about a task it executed.
type SwarmTaskResult struct {
	TaskID           string            `json:"task_id"`
	PeerNodeID       string            `json:"peer_node_id"`
	PeerSessionID    string            `json:"peer_session_id"`
	Status           TaskStatus        `json:"status"`
	Findings         []Finding         `json:"findings"`
	TokensUsed       int64             `json:"tokens_used"`
	CostUSD          float64           `json:"cost_usd"`
	DurationMs       int64             `json:"duration_ms"`
	AttestationChain *AttestationChain `json:"attestation_chain,omitempty"`
}

// Succeeded reports whether the result carries a completed status.
func (r *SwarmTaskResult) Succeeded() bool {
	return r != nil && r.Status == TaskStatusCompleted
}

// Level is a coarse low/medium/high rating used by task attributes.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// TaskAttributes are caller-supplied properties of a task that shape how
// failures are handled.
type TaskAttributes struct {
	Complexity           Level    `json:"complexity"`
	Criticality          Level    `json:"criticality"`
	Verifiability        Level    `json:"verifiability"`
	Reversibility        Level    `json:"reversibility"`
	EstimatedCostUSD     float64  `json:"estimated_cost_usd,omitempty"`
	EstimatedDurationMs  int64    `json:"estimated_duration_ms,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}
