// Package geocode resolves free-text addresses to coordinates through an
// ordered chain of web geocoding providers.
package geocode

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fieldmap/internal/models"
)

const defaultTimeout = 10 * time.Second

// Status is the outcome of a single provider lookup.
type Status int

const (
	Found Status = iota
	NotFound
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what a provider returns for one address. Coordinate is only
// meaningful when Status is Found; Err is only set when Status is Failed.
type Result struct {
	Status     Status
	Coordinate models.Coordinate
	Err        error
}

func found(c models.Coordinate) Result { return Result{Status: Found, Coordinate: c} }
func notFound() Result                 { return Result{Status: NotFound} }
func failed(err error) Result          { return Result{Status: Failed, Err: err} }

// Provider is a single geocoding backend. Implementations make one attempt
// per call and report every failure through the Result.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, address string) Result
}

var errMissingAPIKey = errors.New("api key not configured")

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
