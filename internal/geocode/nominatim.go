package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fieldmap/internal/models"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent    = "fieldmap/1.0"
)

// Nominatim is the unauthenticated OpenStreetMap fallback provider.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatim creates a Nominatim provider. Nominatim rejects requests
// without an identifying User-Agent, so an empty one gets a default.
func NewNominatim(baseURL, userAgent string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Nominatim{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    newHTTPClient(timeout),
	}
}

func (n *Nominatim) Name() string { return "nominatim" }

// Nominatim reports coordinates as decimal strings.
type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) Result {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return failed(fmt.Errorf("build nominatim request: %w", err))
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return failed(fmt.Errorf("nominatim request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("nominatim returned status %d", resp.StatusCode))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return failed(fmt.Errorf("decode nominatim response: %w", err))
	}
	if len(places) == 0 {
		return notFound()
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return failed(fmt.Errorf("parse nominatim lat %q: %w", places[0].Lat, err))
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return failed(fmt.Errorf("parse nominatim lon %q: %w", places[0].Lon, err))
	}
	return found(models.Coordinate{Latitude: lat, Longitude: lng})
}
