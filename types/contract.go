package types

// ContractSLO is the budget a delegatee is authorized to spend.
type ContractSLO struct {
	MaxDurationMs int64   `json:"max_duration_ms"`
	MaxTokens     int64   `json:"max_tokens"`
	MaxCostUSD    float64 `json:"max_cost_usd"`
}

// ContractMonitoring describes the checkpoint cadence required of a delegatee.
type ContractMonitoring struct {
	RequireCheckpoints   bool   `json:"require_checkpoints"`
	CheckpointIntervalMs int64  `json:"checkpoint_interval_ms,omitempty"`
	ReportLevel          string `json:"report_level,omitempty"`
}

// ContractPermissionBoundary limits what a delegatee may touch.
// A nil MaxPermissions means no explicit cap.
type ContractPermissionBoundary struct {
	ToolAllowlist  []string `json:"tool_allowlist,omitempty"`
	ReadonlyPaths  []string `json:"readonly_paths,omitempty"`
	MaxPermissions *int     `json:"max_permissions,omitempty"`
}

// Clone returns a deep copy of the boundary. Clone of nil is nil.
func (b *ContractPermissionBoundary) Clone() *ContractPermissionBoundary {
	if b == nil {
		return nil
	}
	out := &ContractPermissionBoundary{}
	if b.ToolAllowlist != nil {
		out.ToolAllowlist = append([]string(nil), b.ToolAllowlist...)
	}
	if b.ReadonlyPaths != nil {
		out.ReadonlyPaths = append([]string(nil), b.ReadonlyPaths...)
	}
	if b.MaxPermissions != nil {
		v := *b.MaxPermissions
		out.MaxPermissions = &v
	}
	return out
}

// IsEmpty reports whether the boundary records no restriction at all.
func (b *ContractPermissionBoundary) IsEmpty() bool {
	return b == nil || (len(b.ToolAllowlist) == 0 && len(b.ReadonlyPaths) == 0 && b.MaxPermissions == nil)
}
