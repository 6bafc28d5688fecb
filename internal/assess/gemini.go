package assess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jonathan/placement-matcher/internal/observability"
)

// GeminiConfig maps the two intensities onto model tiers. The coarse
// stage runs on the cheapest model that reliably emits JSON; the deep
// stage on the strongest.
type GeminiConfig struct {
	CoarseModel string
	DeepModel   string
	MaxLogLen   int
}

// DefaultGeminiConfig returns the default tier mapping.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		CoarseModel: "gemini-2.5-flash-lite",
		DeepModel:   "gemini-2.5-pro",
		MaxLogLen:   200,
	}
}

// Gemini implements Provider on Google Gemini.
type Gemini struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

var _ Provider = (*Gemini)(nil)

// NewGemini creates a Gemini-backed provider.
func NewGemini(ctx context.Context, apiKey string, config GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.CoarseModel == "" || config.DeepModel == "" {
		config = DefaultGeminiConfig()
	}
	if config.MaxLogLen <= 0 {
		config.MaxLogLen = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{client: client, config: config, logger: logger}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) modelFor(intensity Intensity) string {
	if intensity == IntensityDeep {
		return g.config.DeepModel
	}
	return g.config.CoarseModel
}

// Assess submits one redacted pair and parses the verdict.
func (g *Gemini) Assess(ctx context.Context, req *Request) (*Response, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(g.modelFor(req.Intensity))
	model.SetTemperature(0.1) // Low temperature for consistent output
	model.ResponseMIMEType = "application/json"

	g.logger.Debug("assessment request",
		zap.String("pair", req.PairKey),
		zap.String("intensity", string(req.Intensity)),
		zap.String("model", g.modelFor(req.Intensity)),
		zap.String("prompt_preview", observability.TruncateForLog(prompt, g.config.MaxLogLen)),
	)

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	latency := time.Since(start)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	inTokens, outTokens := usageTokens(resp, prompt, req.Intensity)
	cost := CallCost(req.Intensity, inTokens, outTokens)

	raw, err := extractText(resp)
	if err != nil {
		return nil, &ParseError{Err: err, Cost: cost}
	}

	g.logger.Debug("assessment response",
		zap.String("pair", req.PairKey),
		zap.Duration("latency", latency),
		zap.String("response_preview", observability.TruncateForLog(raw, g.config.MaxLogLen)),
	)

	verdict, err := parseVerdict(raw)
	if err != nil {
		return nil, &ParseError{Err: err, Cost: cost}
	}

	return &Response{
		PairKey:   req.PairKey,
		Passed:    verdict.fit,
		Score:     verdict.score,
		Rationale: verdict.rationale,
		Cost:      cost,
		LatencyMS: latency.Milliseconds(),
	}, nil
}

// classifyProviderError maps transport failures onto the retry
// taxonomy: 429 and 5xx are transient, 429 additionally rate-limited.
func classifyProviderError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return &TransientError{Err: err, RateLimited: true}
		case gerr.Code >= 500:
			return &TransientError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return err
}

func usageTokens(resp *genai.GenerateContentResponse, prompt string, intensity Intensity) (int, int) {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount)
	}
	// No usage metadata: fall back to the per-intensity static estimate.
	out := coarseOutputTokens
	if intensity == IntensityDeep {
		out = deepOutputTokens
	}
	return EstimateTokens(prompt), out
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

type verdict struct {
	fit       bool
	score     float64
	rationale string
}

// parseVerdict tolerates the usual oracle sloppiness: markdown fences,
// stringly-typed booleans and numbers.
func parseVerdict(raw string) (*verdict, error) {
	cleaned := stripFences(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}

	v := &verdict{
		fit:       coerceBool(data["fit"]),
		score:     coerceFloat(data["score"]),
		rationale: coerceString(data["rationale"]),
	}
	if v.rationale == "" {
		v.rationale = coerceString(data["reason"])
	}
	if math.IsNaN(v.score) {
		v.score = 0
	}
	return v, nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(strings.Trim(raw, "`"))
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	default:
		return ""
	}
}
