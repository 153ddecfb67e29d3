// Package aggregator merges the events of several calendars into one
// geocoded list.
package aggregator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"fieldmap/internal/geocode"
	"fieldmap/internal/models"
)

// Source lists the events of one calendar inside a window. The sequence
// yields a non-nil error at most once, as its last element.
type Source interface {
	ListEvents(ctx context.Context, calendarID string, w models.TimeWindow) iter.Seq2[models.RawEvent, error]
}

// Calendar binds a calendar ID to the source that serves it. The ID is
// also the SourceID of every event it contributes.
type Calendar struct {
	ID     string
	Source Source
}

// stats summarizes one aggregation for the log.
type stats struct {
	Fetched       int
	Enriched      int
	Dropped       int
	FailedSources int
}

// Aggregator fetches and geocodes events from a fixed, ordered calendar list.
type Aggregator struct {
	logger    *slog.Logger
	resolver  *geocode.Resolver
	calendars []Calendar
}

// New creates an Aggregator. Output follows the order of calendars.
func New(logger *slog.Logger, resolver *geocode.Resolver, calendars []Calendar) *Aggregator {
	return &Aggregator{
		logger:    logger,
		resolver:  resolver,
		calendars: calendars,
	}
}

// Aggregate returns every event in w whose location could be geocoded,
// grouped by calendar in configuration order and in each calendar's own
// order. A failing calendar contributes what it listed before the failure.
// An empty window yields no events without contacting any source. The only
// error is ctx ending before the work is done.
func (a *Aggregator) Aggregate(ctx context.Context, w models.TimeWindow) ([]models.EnrichedEvent, error) {
	if w.Min.Equal(w.Max) {
		a.logger.Debug("Empty window, nothing to aggregate.", "time", w.Min)
		return []models.EnrichedEvent{}, nil
	}

	a.logger.Info("Starting aggregation.", "timeMin", w.Min, "timeMax", w.Max, "calendars", len(a.calendars))

	memo := geocode.NewMemo(a.resolver)
	events := make([]models.EnrichedEvent, 0)
	var st stats

	for _, cal := range a.calendars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("aggregation interrupted: %w", err)
		}

		for raw, err := range cal.Source.ListEvents(ctx, cal.ID, w) {
			if err != nil {
				st.FailedSources++
				a.logger.Error("Could not fetch events for calendar", "calendarID", cal.ID, "error", err)
				break
			}
			st.Fetched++

			coord, ok := memo.Resolve(ctx, raw.Location)
			if !ok {
				st.Dropped++
				a.logger.Info("Skipping event due to failed geocoding.", "title", raw.Title, "calendarID", cal.ID, "location", raw.Location)
				continue
			}
			events = append(events, models.Enrich(raw, cal.ID, coord))
			st.Enriched++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregation interrupted: %w", err)
	}

	a.logger.Info("Aggregation finished.",
		"fetched", st.Fetched,
		"enriched", st.Enriched,
		"dropped", st.Dropped,
		"failedSources", st.FailedSources,
	)
	return events, nil
}
