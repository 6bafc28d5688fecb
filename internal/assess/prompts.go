package assess

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed prompt_coarse.md
var promptCoarse string

//go:embed prompt_deep.md
var promptDeep string

func promptFor(intensity Intensity) string {
	if intensity == IntensityDeep {
		return promptDeep
	}
	return promptCoarse
}

// BuildPrompt renders the stage template with the redacted pair
// payload.
func BuildPrompt(req *Request) (string, error) {
	candidateJSON, err := json.MarshalIndent(req.Candidate, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidate payload: %w", err)
	}
	positionJSON, err := json.MarshalIndent(req.Position, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal position payload: %w", err)
	}

	prompt := promptFor(req.Intensity)
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATE_JSON}}", string(candidateJSON))
	prompt = strings.ReplaceAll(prompt, "{{POSITION_JSON}}", string(positionJSON))
	return prompt, nil
}
