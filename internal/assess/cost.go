package assess

import (
	"encoding/json"

	"github.com/jonathan/placement-matcher/internal/types"
)

// CostModel is the static per-call price table, EUR per 1k tokens.
// Values track the configured provider's published pricing and only
// need to be roughly right: the point is a stable pre-commit estimate
// and a truthful running total, not billing-grade accounting.
type CostModel struct {
	InputPerKTok  float64
	OutputPerKTok float64
}

// Default price tables for the two intensities.
var (
	coarseCostModel = CostModel{InputPerKTok: 0.00009, OutputPerKTok: 0.00035}
	deepCostModel   = CostModel{InputPerKTok: 0.0011, OutputPerKTok: 0.0090}
)

// Expected response sizes per intensity, in tokens. The coarse stage
// returns little more than a verdict; the deep stage writes a
// rationale.
const (
	coarseOutputTokens = 40
	deepOutputTokens   = 320
)

func costModelFor(intensity Intensity) CostModel {
	if intensity == IntensityDeep {
		return deepCostModel
	}
	return coarseCostModel
}

// EstimateTokens approximates the token count of a payload. Four bytes
// per token is the usual rule of thumb and errs slightly high for
// structured JSON.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// CallCost prices one call from actual token counts.
func CallCost(intensity Intensity, inputTokens, outputTokens int) float64 {
	m := costModelFor(intensity)
	return float64(inputTokens)/1000*m.InputPerKTok + float64(outputTokens)/1000*m.OutputPerKTok
}

// EstimatePairCost prices one pair's call before it is made, from the
// redacted payload that would be sent.
func EstimatePairCost(intensity Intensity, candidate, position types.Entity) float64 {
	payload, _ := json.Marshal(struct {
		Candidate RedactedEntity `json:"candidate"`
		Position  RedactedEntity `json:"position"`
	}{Redact(candidate), Redact(position)})

	out := coarseOutputTokens
	if intensity == IntensityDeep {
		out = deepOutputTokens
	}
	return CallCost(intensity, EstimateTokens(string(payload))+promptOverheadTokens(intensity), out)
}

// EstimateStageCost prices a whole stage over its pending pairs. This
// is the dry-run preview the operator sees before committing.
func EstimateStageCost(intensity Intensity, pairs []types.ScoredPair) float64 {
	total := 0.0
	for _, sp := range pairs {
		total += EstimatePairCost(intensity, sp.Candidate, sp.Position)
	}
	return total
}

func promptOverheadTokens(intensity Intensity) int {
	return EstimateTokens(promptFor(intensity))
}
