package geocode

import (
	"context"
	"log/slog"
	"strings"

	"fieldmap/internal/models"
)

// Resolver tries its providers in order until one finds the address.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver over providers, highest priority first.
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	return &Resolver{providers: providers, logger: logger}
}

// Resolve returns the coordinate for address, or false if it is blank or
// no provider could resolve it. Provider failures are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, address string) (models.Coordinate, bool) {
	coord, status := r.Lookup(ctx, address)
	return coord, status == Found
}

// Lookup is Resolve with the overall outcome: Found from the first provider
// that finds the address, Failed if none found it and at least one failed,
// NotFound otherwise. A blank address is NotFound without any provider call.
func (r *Resolver) Lookup(ctx context.Context, address string) (models.Coordinate, Status) {
	if strings.TrimSpace(address) == "" {
		r.logger.Debug("Empty address, skipping geocoding.")
		return models.Coordinate{}, NotFound
	}

	status := NotFound
	for i, p := range r.providers {
		res := p.Geocode(ctx, address)
		switch res.Status {
		case Found:
			if i > 0 {
				r.logger.Info("Address resolved by fallback provider", "provider", p.Name(), "address", address)
			}
			return res.Coordinate, Found
		case NotFound:
			r.logger.Info("Geocoder found no results", "provider", p.Name(), "address", address)
		default:
			r.logger.Error("Geocoder failed", "provider", p.Name(), "address", address, "error", res.Err)
			status = Failed
		}
	}
	return models.Coordinate{}, status
}

// Memo remembers definitive outcomes (found or not found) per address. A
// failed lookup, such as a provider timeout, is retried on the next call.
// It is meant to live for a single aggregation and is not safe for
// concurrent use.
type Memo struct {
	resolver *Resolver
	seen     map[string]models.Coordinate
	missing  map[string]struct{}
}

// NewMemo wraps r with an empty per-request memo.
func NewMemo(r *Resolver) *Memo {
	return &Memo{
		resolver: r,
		seen:     make(map[string]models.Coordinate),
		missing:  make(map[string]struct{}),
	}
}

func (m *Memo) Resolve(ctx context.Context, address string) (models.Coordinate, bool) {
	key := strings.TrimSpace(address)
	if c, ok := m.seen[key]; ok {
		return c, true
	}
	if _, ok := m.missing[key]; ok {
		return models.Coordinate{}, false
	}

	coord, status := m.resolver.Lookup(ctx, key)
	switch status {
	case Found:
		m.seen[key] = coord
		return coord, true
	case NotFound:
		m.missing[key] = struct{}{}
	}
	return models.Coordinate{}, false
}
