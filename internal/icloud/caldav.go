package icloud

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"fieldmap/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	ICloudCalDAVEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	UserAgent string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", t.UserAgent)
	return t.Transport.RoundTrip(req)
}

// CalDAVClient reads events from calendars on a CalDAV server (iCloud by default).
// Calendars are addressed by their display name.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	timeout      time.Duration

	mu    sync.Mutex
	paths map[string]string // calendar name -> collection path
}

// NewClient creates a CalDAVClient. Calendar discovery is deferred until the
// first listing so that an unreachable server does not block startup.
func NewClient(logger *slog.Logger, endpoint, username, password string, timeout time.Duration) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = ICloudCalDAVEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		UserAgent: "fieldmap/1.0",
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger,
		timeout:      timeout,
		paths:        make(map[string]string),
	}, nil
}

// ListEvents yields the events of the named calendar that overlap w, with
// recurring events expanded by the server, ordered by start time. CalDAV
// returns the whole result at once, so the sequence has a single page.
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarName string, w models.TimeWindow) iter.Seq2[models.RawEvent, error] {
	return func(yield func(models.RawEvent, error) bool) {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		calendarPath, err := c.calendarPath(ctx, calendarName)
		if err != nil {
			yield(models.RawEvent{}, fmt.Errorf("could not find calendar '%s': %w", calendarName, err))
			return
		}

		objects, err := c.caldavClient.QueryCalendar(ctx, calendarPath, eventQuery(w))
		if err != nil {
			yield(models.RawEvent{}, fmt.Errorf("failed to query calendar '%s': %w", calendarName, err))
			return
		}
		c.logger.Debug("Queried CalDAV calendar", "calendar", calendarName, "objects", len(objects))

		cals := make([]*ical.Calendar, 0, len(objects))
		for _, obj := range objects {
			if obj.Data != nil {
				cals = append(cals, obj.Data)
			}
		}
		for _, ev := range toRawEvents(c.logger, cals) {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// eventQuery asks for full VEVENTs overlapping w, expanded into instances.
func eventQuery(w models.TimeWindow) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
			Expand: &caldav.CalendarExpandRequest{Start: w.Min, End: w.Max},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: w.Min,
				End:   w.Max,
			}},
		},
	}
}

type datedEvent struct {
	start time.Time
	event models.RawEvent
}

// toRawEvents flattens the VEVENTs of cals and sorts them by start time.
// Events without a usable DTSTART are skipped.
func toRawEvents(logger *slog.Logger, cals []*ical.Calendar) []models.RawEvent {
	var dated []datedEvent
	for _, cal := range cals {
		for _, ev := range cal.Events() {
			start, raw, err := toRawEvent(ev)
			if err != nil {
				logger.Warn("Skipping CalDAV event", "error", err)
				continue
			}
			dated = append(dated, datedEvent{start: start, event: raw})
		}
	}

	sort.SliceStable(dated, func(i, j int) bool { return dated[i].start.Before(dated[j].start) })

	out := make([]models.RawEvent, 0, len(dated))
	for _, d := range dated {
		out = append(out, d.event)
	}
	return out
}

func toRawEvent(ev ical.Event) (time.Time, models.RawEvent, error) {
	uid, _ := ev.Props.Text(ical.PropUID)
	summary, _ := ev.Props.Text(ical.PropSummary)
	location, _ := ev.Props.Text(ical.PropLocation)

	startProp := ev.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return time.Time{}, models.RawEvent{}, fmt.Errorf("event %q has no DTSTART", uid)
	}
	allDay := startProp.ValueType() == ical.ValueDate

	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return time.Time{}, models.RawEvent{}, fmt.Errorf("event %q: invalid DTSTART: %w", uid, err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil || end.IsZero() {
		end = start
	}

	raw := models.RawEvent{
		ID:       uid,
		Title:    summary,
		Location: location,
		Start:    eventTime(start, allDay),
		End:      eventTime(end, allDay),
	}
	for _, p := range ev.Props.Values(ical.PropAttendee) {
		if email := stripMailto(p.Value); email != "" {
			raw.Attendees = append(raw.Attendees, models.Attendee{Email: email})
		}
	}
	return start, raw, nil
}

func eventTime(t time.Time, allDay bool) models.EventTime {
	if allDay {
		return models.EventTime{Date: t.Format(time.DateOnly)}
	}
	return models.EventTime{DateTime: t.Format(time.RFC3339)}
}

func stripMailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= len("mailto:") && strings.EqualFold(v[:len("mailto:")], "mailto:") {
		v = v[len("mailto:"):]
	}
	return strings.TrimSpace(v)
}

// calendarPath returns the collection path for name, discovering it on first use.
func (c *CalDAVClient) calendarPath(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	p, ok := c.paths[name]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := c.findCalendar(ctx, name)
	if err != nil {
		return "", err
	}
	c.logger.Info("Found CalDAV calendar", "calendarName", name, "path", p)

	c.mu.Lock()
	c.paths[name] = p
	c.mu.Unlock()
	return p, nil
}

// findCalendar walks principal -> home set -> calendars looking for name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
