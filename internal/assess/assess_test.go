package assess

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/placement-matcher/internal/types"
)

func fullEntity() types.Entity {
	return types.Entity{
		ID:          uuid.New(),
		Kind:        types.KindCandidate,
		PostalCode:  "20095",
		City:        "Hamburg",
		RoleTags:    []string{"FiBu", "Controlling"},
		Descriptors: []string{"5 years experience", "DATEV"},
		Name:        "Erika Mustermann",
		Email:       "erika@example.com",
		Phone:       "+49 40 1234567",
		Street:      "Spitalerstraße 12",
	}
}

func TestRedactStripsIdentifyingFields(t *testing.T) {
	e := fullEntity()
	red := Redact(e)

	payload, err := json.Marshal(red)
	require.NoError(t, err)
	body := string(payload)

	assert.NotContains(t, body, e.Name)
	assert.NotContains(t, body, e.Email)
	assert.NotContains(t, body, e.Phone)
	assert.NotContains(t, body, e.Street)
	assert.NotContains(t, body, e.City)
	assert.NotContains(t, body, e.PostalCode, "full postal code must not leak")

	assert.Equal(t, "20", red.Region, "only the coarse postal prefix survives")
	assert.Equal(t, e.ID.String(), red.Ref)
	assert.Equal(t, e.RoleTags, red.RoleTags)
}

func TestBuildPromptContainsOnlyRedactedData(t *testing.T) {
	e := fullEntity()
	p := types.Entity{ID: uuid.New(), Kind: types.KindPosition, RoleTags: []string{"FiBu"}, Name: "ACME GmbH"}

	req := &Request{
		PairKey:   "k",
		Candidate: Redact(e),
		Position:  Redact(p),
		Intensity: IntensityCoarse,
	}

	prompt, err := BuildPrompt(req)
	require.NoError(t, err)

	assert.Contains(t, prompt, "FiBu")
	assert.NotContains(t, prompt, "Erika")
	assert.NotContains(t, prompt, "ACME")
	assert.NotContains(t, prompt, "{{CANDIDATE_JSON}}", "placeholders must be substituted")
	assert.NotContains(t, prompt, "{{POSITION_JSON}}")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		fit       bool
		score     float64
		rationale string
	}{
		{
			name:  "plain json",
			raw:   `{"fit": true, "score": 8.5, "rationale": "strong overlap"}`,
			fit:   true, score: 8.5, rationale: "strong overlap",
		},
		{
			name:  "markdown fenced",
			raw:   "```json\n{\"fit\": false, \"score\": 2, \"rationale\": \"no overlap\"}\n```",
			fit:   false, score: 2, rationale: "no overlap",
		},
		{
			name:  "stringly typed",
			raw:   `{"fit": "true", "score": "7.0", "reason": "ok"}`,
			fit:   true, score: 7.0, rationale: "ok",
		},
		{
			name: "coarse shape with reason only",
			raw:  `{"fit": true, "reason": "worth a look"}`,
			fit:  true, score: 0, rationale: "worth a look",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.fit, v.fit)
			assert.InDelta(t, tt.score, v.score, 1e-9)
			assert.Equal(t, tt.rationale, v.rationale)
		})
	}
}

func TestParseVerdictRejectsNonJSON(t *testing.T) {
	_, err := parseVerdict("I'm sorry, I can't help with that.")
	require.Error(t, err)
}

func TestCostEstimateScalesWithIntensityAndSize(t *testing.T) {
	c := fullEntity()
	p := types.Entity{ID: uuid.New(), Kind: types.KindPosition, RoleTags: []string{"FiBu"}}

	coarse := EstimatePairCost(IntensityCoarse, c, p)
	deep := EstimatePairCost(IntensityDeep, c, p)

	assert.Greater(t, coarse, 0.0)
	assert.Greater(t, deep, coarse, "deep assessment must price higher than coarse")

	// A longer payload costs more at the same intensity.
	big := c
	big.Descriptors = append(big.Descriptors, strings.Repeat("senior payroll accounting ", 50))
	assert.Greater(t, EstimatePairCost(IntensityCoarse, big, p), coarse)
}

func TestEstimateStageCostSumsPairs(t *testing.T) {
	c := fullEntity()
	p := types.Entity{ID: uuid.New(), Kind: types.KindPosition, RoleTags: []string{"FiBu"}}
	sp := types.ScoredPair{Pair: types.Pair{CandidateID: c.ID, PositionID: p.ID}, Candidate: c, Position: p}

	one := EstimateStageCost(IntensityCoarse, []types.ScoredPair{sp})
	three := EstimateStageCost(IntensityCoarse, []types.ScoredPair{sp, sp, sp})

	assert.InDelta(t, 3*one, three, 1e-12)
}

func TestUsageTokensFallbackTracksIntensity(t *testing.T) {
	withMeta := &genai.GenerateContentResponse{
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 120, CandidatesTokenCount: 75},
	}
	in, out := usageTokens(withMeta, "ignored", IntensityCoarse)
	assert.Equal(t, 120, in)
	assert.Equal(t, 75, out)

	// Without metadata the estimate must match the stage's expected
	// response size, or deep calls get priced as coarse ones.
	prompt := strings.Repeat("x", 400)
	_, coarseOut := usageTokens(&genai.GenerateContentResponse{}, prompt, IntensityCoarse)
	_, deepOut := usageTokens(&genai.GenerateContentResponse{}, prompt, IntensityDeep)
	assert.Equal(t, coarseOutputTokens, coarseOut)
	assert.Equal(t, deepOutputTokens, deepOut)
	assert.Greater(t, CallCost(IntensityDeep, 100, deepOut), CallCost(IntensityCoarse, 100, coarseOut))
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: assert.AnError}))
	assert.True(t, IsRateLimited(&TransientError{Err: assert.AnError, RateLimited: true}))
	assert.False(t, IsRateLimited(&TransientError{Err: assert.AnError}))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsRateLimited(nil))
}
