package icloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldmap/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:late@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T150000Z\r\n" +
	"DTEND:20240101T160000Z\r\n" +
	"SUMMARY:Afternoon visit\r\n" +
	"LOCATION:500 Congress Ave\\, Austin\\, TX\r\n" +
	"ATTENDEE;CN=Client:mailto:client@example.com\r\n" +
	"ATTENDEE:MAILTO:tech@example.com\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240101\r\n" +
	"DTEND;VALUE=DATE:20240102\r\n" +
	"SUMMARY:Winterize\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:early@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"LOCATION:1 Main St\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func decode(t *testing.T, s string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(s)).Decode()
	if err != nil {
		t.Fatalf("decode ics: %v", err)
	}
	return cal
}

func TestToRawEventsSortsAndMaps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := toRawEvents(logger, []*ical.Calendar{decode(t, sampleICS)})

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	wantOrder := []string{"allday@example.com", "early@example.com", "late@example.com"}
	for i, want := range wantOrder {
		if events[i].ID != want {
			t.Errorf("events[%d].ID = %q, want %q", i, events[i].ID, want)
		}
	}

	allDay := events[0]
	if allDay.Start != (models.EventTime{Date: "2024-01-01"}) || allDay.End != (models.EventTime{Date: "2024-01-02"}) {
		t.Errorf("all-day times = %+v/%+v", allDay.Start, allDay.End)
	}

	late := events[2]
	if late.Title != "Afternoon visit" || late.Location != "500 Congress Ave, Austin, TX" {
		t.Errorf("late event = %+v", late)
	}
	if late.Start.DateTime != "2024-01-01T15:00:00Z" || late.End.DateTime != "2024-01-01T16:00:00Z" {
		t.Errorf("late times = %+v/%+v", late.Start, late.End)
	}
	if len(late.Attendees) != 2 || late.Attendees[0].Email != "client@example.com" || late.Attendees[1].Email != "tech@example.com" {
		t.Errorf("attendees = %+v", late.Attendees)
	}

	if events[1].Title != "" {
		t.Errorf("untitled event title = %q, want empty", events[1].Title)
	}
}

func TestEventQueryCoversWindow(t *testing.T) {
	w := models.TimeWindow{
		Min: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Max: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	q := eventQuery(w)
	if q.CompFilter.Name != ical.CompCalendar || len(q.CompFilter.Comps) != 1 {
		t.Fatalf("filter = %+v", q.CompFilter)
	}
	ev := q.CompFilter.Comps[0]
	if ev.Name != ical.CompEvent || !ev.Start.Equal(w.Min) || !ev.End.Equal(w.Max) {
		t.Errorf("event filter = %+v", ev)
	}
	if q.CompRequest.Expand == nil || !q.CompRequest.Expand.Start.Equal(w.Min) {
		t.Errorf("expand = %+v", q.CompRequest.Expand)
	}
}

func TestCustomTransportAddsAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != "user" || p != "app-password" {
			t.Errorf("basic auth = %q/%q/%v", u, p, ok)
		}
		if ua := r.Header.Get("User-Agent"); ua != "fieldmap/1.0" {
			t.Errorf("User-Agent = %q", ua)
		}
	}))
	defer server.Close()

	client := &http.Client{Transport: &customTransport{
		Username:  "user",
		Password:  "app-password",
		UserAgent: "fieldmap/1.0",
		Transport: http.DefaultTransport,
	}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
}

func TestStripMailto(t *testing.T) {
	for in, want := range map[string]string{
		"mailto:a@example.com":   "a@example.com",
		"MAILTO:b@example.com":   "b@example.com",
		"c@example.com":          "c@example.com",
		"mailto:":                "",
		" mailto:x@example.com ": "x@example.com",
	} {
		if got := stripMailto(in); got != want {
			t.Errorf("stripMailto(%q) = %q, want %q", in, got, want)
		}
	}
}

var errReadOnly = errors.New("read-only calendar server")

// memBackend is a read-only, single-user CalDAV backend. It counts calendar
// listings and records the time-range filters it is queried with.
type memBackend struct {
	calendars []caldav.Calendar
	objects   map[string][]caldav.CalendarObject

	mu      sync.Mutex
	listed  int
	queries []caldav.CompFilter
}

func (b *memBackend) listings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listed
}

func (b *memBackend) filters() []caldav.CompFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]caldav.CompFilter(nil), b.queries...)
}

func (b *memBackend) CurrentUserPrincipal(context.Context) (string, error) {
	return "/user/", nil
}

func (b *memBackend) CalendarHomeSetPath(context.Context) (string, error) {
	return "/user/calendars/", nil
}

func (b *memBackend) CreateCalendar(context.Context, *caldav.Calendar) error {
	return errReadOnly
}

func (b *memBackend) ListCalendars(context.Context) ([]caldav.Calendar, error) {
	b.mu.Lock()
	b.listed++
	b.mu.Unlock()
	return b.calendars, nil
}

func (b *memBackend) GetCalendar(_ context.Context, path string) (*caldav.Calendar, error) {
	for _, cal := range b.calendars {
		if samePath(cal.Path, path) {
			return &cal, nil
		}
	}
	return nil, fmt.Errorf("no calendar at %s", path)
}

func (b *memBackend) GetCalendarObject(_ context.Context, path string, _ *caldav.CalendarCompRequest) (*caldav.CalendarObject, error) {
	return nil, fmt.Errorf("no object at %s", path)
}

func (b *memBackend) ListCalendarObjects(_ context.Context, path string, _ *caldav.CalendarCompRequest) ([]caldav.CalendarObject, error) {
	return b.objectsAt(path), nil
}

func (b *memBackend) QueryCalendarObjects(_ context.Context, path string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error) {
	b.mu.Lock()
	b.queries = append(b.queries, query.CompFilter)
	b.mu.Unlock()
	return b.objectsAt(path), nil
}

func (b *memBackend) PutCalendarObject(context.Context, string, *ical.Calendar, *caldav.PutCalendarObjectOptions) (*caldav.CalendarObject, error) {
	return nil, errReadOnly
}

func (b *memBackend) DeleteCalendarObject(context.Context, string) error {
	return errReadOnly
}

func (b *memBackend) objectsAt(path string) []caldav.CalendarObject {
	for p, objs := range b.objects {
		if samePath(p, path) {
			return objs
		}
	}
	return nil
}

func samePath(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

var caldavWindow = models.TimeWindow{
	Min: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	Max: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
}

func newTestServer(t *testing.T) (*memBackend, *CalDAVClient) {
	t.Helper()
	backend := &memBackend{
		calendars: []caldav.Calendar{
			{Path: "/user/calendars/work/", Name: "Work"},
			{Path: "/user/calendars/home/", Name: "Home"},
		},
		objects: map[string][]caldav.CalendarObject{
			"/user/calendars/work/": {{Path: "/user/calendars/work/jobs.ics", Data: decode(t, sampleICS)}},
		},
	}
	server := httptest.NewServer(&caldav.Handler{Backend: backend})
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(logger, server.URL+"/", "user", "app-password", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return backend, client
}

func collect(seq iter.Seq2[models.RawEvent, error]) ([]models.RawEvent, []error) {
	var events []models.RawEvent
	var errs []error
	for ev, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

func TestListEventsFromServer(t *testing.T) {
	backend, client := newTestServer(t)

	events, errs := collect(client.ListEvents(context.Background(), "Work", caldavWindow))
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}

	wantOrder := []string{"allday@example.com", "early@example.com", "late@example.com"}
	if len(events) != len(wantOrder) {
		t.Fatalf("got %d events, want %d", len(events), len(wantOrder))
	}
	for i, want := range wantOrder {
		if events[i].ID != want {
			t.Errorf("events[%d].ID = %q, want %q", i, events[i].ID, want)
		}
	}
	if late := events[2]; late.Location != "500 Congress Ave, Austin, TX" || len(late.Attendees) == 0 || late.Attendees[0].Email != "client@example.com" {
		t.Errorf("late event = %+v", late)
	}

	filters := backend.filters()
	if len(filters) != 1 || len(filters[0].Comps) != 1 {
		t.Fatalf("filters = %+v", filters)
	}
	if ev := filters[0].Comps[0]; !ev.Start.Equal(caldavWindow.Min) || !ev.End.Equal(caldavWindow.Max) {
		t.Errorf("time range = %v..%v, want %v..%v", ev.Start, ev.End, caldavWindow.Min, caldavWindow.Max)
	}
}

func TestListEventsDiscoversCalendarOnce(t *testing.T) {
	backend, client := newTestServer(t)

	for i := 0; i < 2; i++ {
		if _, errs := collect(client.ListEvents(context.Background(), "Work", caldavWindow)); len(errs) != 0 {
			t.Fatalf("listing %d: %v", i, errs)
		}
	}
	if got := backend.listings(); got != 1 {
		t.Errorf("calendar discoveries = %d, want 1", got)
	}
	if got := len(backend.filters()); got != 2 {
		t.Errorf("queries = %d, want 2", got)
	}

	// An empty calendar is found through the same discovery and yields nothing.
	events, errs := collect(client.ListEvents(context.Background(), "Home", caldavWindow))
	if len(events) != 0 || len(errs) != 0 {
		t.Errorf("Home = %v events, %v errors, want none", len(events), errs)
	}
}

func TestListEventsUnknownCalendarYieldsOneError(t *testing.T) {
	backend, client := newTestServer(t)

	events, errs := collect(client.ListEvents(context.Background(), "Missing", caldavWindow))
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", errs)
	}
	if !strings.Contains(errs[0].Error(), "Missing") {
		t.Errorf("error = %q, want it to name the calendar", errs[0])
	}
	if got := len(backend.filters()); got != 0 {
		t.Errorf("queries = %d, want 0", got)
	}
}

func TestListEventsStopsWhenConsumerStops(t *testing.T) {
	_, client := newTestServer(t)

	var seen int
	for _, err := range client.ListEvents(context.Background(), "Work", caldavWindow) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("seen = %d, want 1", seen)
	}
}
