package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/placement-matcher/internal/types"
)

const defaultMatrixBaseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"

// GoogleMatrix implements Provider on the Google Distance Matrix API.
// The API prices per element and takes one travel mode per request, so
// each Matrix call costs two HTTP requests: one driving, one transit.
type GoogleMatrix struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Provider = (*GoogleMatrix)(nil)

// NewGoogleMatrix creates a Distance Matrix backed provider.
func NewGoogleMatrix(apiKey string) (*GoogleMatrix, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return &GoogleMatrix{
		apiKey:  apiKey,
		baseURL: defaultMatrixBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// matrixResponse mirrors the API's JSON shape, reduced to the fields
// used here.
type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int64 `json:"value"` // seconds
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// Matrix resolves travel times from one origin to up to MaxBatchSize
// destinations. Per-element failures come back inline with OK false;
// only transport or API-level failures return an error.
func (g *GoogleMatrix) Matrix(ctx context.Context, origin types.Coordinates, destinations []types.Coordinates) ([]Route, error) {
	if len(destinations) == 0 {
		return nil, nil
	}
	if len(destinations) > MaxBatchSize {
		return nil, fmt.Errorf("too many destinations: %d > %d", len(destinations), MaxBatchSize)
	}

	driving, err := g.fetch(ctx, "driving", origin, destinations)
	if err != nil {
		return nil, err
	}
	transit, err := g.fetch(ctx, "transit", origin, destinations)
	if err != nil {
		return nil, err
	}

	routes := make([]Route, len(destinations))
	for i := range destinations {
		car := driving.Rows[0].Elements[i]
		tr := transit.Rows[0].Elements[i]
		if car.Status != "OK" {
			routes[i] = Route{ErrStatus: car.Status}
			continue
		}
		routes[i] = Route{
			CarMin: float64(car.Duration.Value) / 60,
			OK:     true,
		}
		// Transit coverage is spotty outside cities; a missing transit
		// element does not invalidate the route.
		if tr.Status == "OK" {
			routes[i].TransitMin = float64(tr.Duration.Value) / 60
		}
	}
	return routes, nil
}

func (g *GoogleMatrix) fetch(ctx context.Context, mode string, origin types.Coordinates, destinations []types.Coordinates) (*matrixResponse, error) {
	dests := make([]string, len(destinations))
	for i, d := range destinations {
		dests[i] = fmt.Sprintf("%f,%f", d.Lat, d.Lon)
	}

	params := url.Values{}
	params.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lon))
	params.Set("destinations", strings.Join(dests, "|"))
	params.Set("mode", mode)
	params.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build matrix request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matrix request failed with status %d", resp.StatusCode)
	}

	var decoded matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode matrix response: %w", err)
	}
	if decoded.Status != "OK" {
		return nil, fmt.Errorf("matrix API error: %s", decoded.Status)
	}
	if len(decoded.Rows) != 1 || len(decoded.Rows[0].Elements) != len(destinations) {
		return nil, fmt.Errorf("matrix response shape mismatch: %d rows", len(decoded.Rows))
	}
	return &decoded, nil
}
