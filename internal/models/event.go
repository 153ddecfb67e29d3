package models

import "strings"

const (
	// DefaultTitle is used when a calendar event has no summary or only whitespace.
	DefaultTitle = "No Title"
	// DefaultClient is used when a calendar event has no attendees.
	DefaultClient = "No Client"
)

// Coordinate is a resolved latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// EventTime is the start or end of a calendar event. Timed events carry
// DateTime, all-day events carry only Date.
type EventTime struct {
	DateTime string
	Date     string
}

// Value returns the timestamp if present, otherwise the all-day date.
func (t EventTime) Value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// AllDay reports whether the time is a date without a time of day.
func (t EventTime) AllDay() bool {
	return t.DateTime == "" && t.Date != ""
}

// Attendee is a single event participant.
type Attendee struct {
	Email string
}

// RawEvent is an event as listed by a calendar source, before geocoding.
type RawEvent struct {
	ID        string
	Title     string
	Location  string
	Start     EventTime
	End       EventTime
	Attendees []Attendee
}

// EnrichedEvent is an event whose location resolved to a coordinate.
// It is never built without one.
type EnrichedEvent struct {
	Title       string     `json:"title"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Location    string     `json:"location,omitempty"`
	Coordinates Coordinate `json:"coordinates"`
	SourceID    string     `json:"sourceId"`
	Client      string     `json:"client"`
}

// Enrich builds the output record for raw, tagged with the calendar it came from.
func Enrich(raw RawEvent, sourceID string, coord Coordinate) EnrichedEvent {
	title := raw.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	client := DefaultClient
	if len(raw.Attendees) > 0 && raw.Attendees[0].Email != "" {
		client = raw.Attendees[0].Email
	}
	return EnrichedEvent{
		Title:       title,
		Start:       raw.Start.Value(),
		End:         raw.End.Value(),
		Location:    raw.Location,
		Coordinates: coord,
		SourceID:    sourceID,
		Client:      client,
	}
}
