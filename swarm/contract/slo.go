package contract

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentswarm/types"
)

// CheckSLO lists every budget result exceeded. Zero budgets are unlimited.
func CheckSLO(slo types.ContractSLO, result *types.SwarmTaskResult) []string {
	if result == nil {
		return nil
	}
	var out []string
	if slo.MaxDurationMs > 0 && result.DurationMs > slo.MaxDurationMs {
		out = append(out, fmt.Sprintf("duration %dms exceeds %dms", result.DurationMs, slo.MaxDurationMs))
	}
	if slo.MaxTokens > 0 && result.TokensUsed > slo.MaxTokens {
		out = append(out, fmt.Sprintf("tokens %d exceed %d", result.TokensUsed, slo.MaxTokens))
	}
	if slo.MaxCostUSD > 0 && result.CostUSD > slo.MaxCostUSD {
		out = append(out, fmt.Sprintf("cost $%.4f exceeds $%.4f", result.CostUSD, slo.MaxCostUSD))
	}
	return out
}

func joinViolations(v []string) string {
	return strings.Join(v, "; ")
}
