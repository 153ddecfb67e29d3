package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldmap/internal/models"
)

const DefaultGeocodioURL = "https://api.geocod.io/v1.6"

// Geocodio is the keyed primary provider.
type Geocodio struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeocodio creates a Geocodio provider. An empty baseURL selects the
// public API.
func NewGeocodio(apiKey, baseURL string, timeout time.Duration) *Geocodio {
	if baseURL == "" {
		baseURL = DefaultGeocodioURL
	}
	return &Geocodio{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

func (g *Geocodio) Name() string { return "geocodio" }

type geocodioResponse struct {
	Results []struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"results"`
}

// Geocode looks up address and takes the highest ranked result.
func (g *Geocodio) Geocode(ctx context.Context, address string) Result {
	if g.apiKey == "" {
		return failed(errMissingAPIKey)
	}

	q := url.Values{}
	q.Set("api_key", g.apiKey)
	q.Set("q", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/geocode?"+q.Encode(), nil)
	if err != nil {
		return failed(fmt.Errorf("build geocodio request: %w", err))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Strip the URL so the api key never reaches the logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return failed(fmt.Errorf("geocodio request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failed(fmt.Errorf("geocodio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var gr geocodioResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return failed(fmt.Errorf("decode geocodio response: %w", err))
	}
	if len(gr.Results) == 0 {
		return notFound()
	}
	loc := gr.Results[0].Location
	return found(models.Coordinate{Latitude: loc.Lat, Longitude: loc.Lng})
}
