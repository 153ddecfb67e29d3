// Package export renders enriched events for consumers other than the JSON API.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"fieldmap/internal/models"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//fieldmap//EN"

// uidNamespace scopes the name-based UIDs of exported events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://fieldmap.invalid/events"))

// ErrNoEvents is returned by WriteICS for an empty list; a VCALENDAR must
// hold at least one component.
var ErrNoEvents = errors.New("no events to export")

// WriteICS encodes events as a single VCALENDAR. now stamps DTSTAMP.
func WriteICS(w io.Writer, events []models.EnrichedEvent, now time.Time) error {
	if len(events) == 0 {
		return ErrNoEvents
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, ev := range events {
		vevent, err := toVEvent(ev, now)
		if err != nil {
			return fmt.Errorf("event %q: %w", ev.Title, err)
		}
		cal.Children = append(cal.Children, vevent)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// EventUID is stable for the same calendar, start and title.
func EventUID(ev models.EnrichedEvent) string {
	name := strings.Join([]string{ev.SourceID, ev.Start, ev.Title}, "|")
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

func toVEvent(ev models.EnrichedEvent, now time.Time) (*ical.Component, error) {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, EventUID(ev))
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if err := setTime(ve, ical.PropDateTimeStart, ev.Start); err != nil {
		return nil, err
	}
	if err := setTime(ve, ical.PropDateTimeEnd, ev.End); err != nil {
		return nil, err
	}

	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}

	geo := ical.NewProp(ical.PropGeo)
	geo.Value = fmt.Sprintf("%f;%f", ev.Coordinates.Latitude, ev.Coordinates.Longitude)
	ve.Props.Set(geo)

	cat := ical.NewProp(ical.PropCategories)
	cat.SetText(ev.SourceID)
	ve.Props.Set(cat)

	if ev.Client != models.DefaultClient {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + ev.Client
		ve.Props.Add(p)
	}
	return ve, nil
}

// setTime writes an all-day date or an RFC 3339 timestamp.
func setTime(ve *ical.Component, name, value string) error {
	if d, err := time.Parse(time.DateOnly, value); err == nil {
		ve.Props.SetDate(name, d)
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	ve.Props.SetDateTime(name, t.UTC())
	return nil
}
