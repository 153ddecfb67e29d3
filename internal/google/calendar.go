package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"time"

	"fieldmap/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
)

// Options tune how the client talks to the Calendar API.
type Options struct {
	// PageTimeout bounds each page request. Zero means no per-page limit.
	PageTimeout time.Duration
}

// CalendarClient lists events from Google calendars.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
	opts    Options
}

// NewServiceAccountClient creates a client authenticated as a service
// account. credentialsJSON is the key file content downloaded from the
// Google Cloud console. The calendars must be shared with the account.
func NewServiceAccountClient(ctx context.Context, logger *slog.Logger, credentialsJSON []byte, opts Options) (*CalendarClient, error) {
	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	logger.Info("Using Google service account", "email", jwtConfig.Email)
	return NewClientFromService(service, logger, opts), nil
}

// NewClient creates a client from an installed-app OAuth token previously
// saved by the auth command as token-<accountName>.json.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string, opts Options) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := TokenFile(accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return NewClientFromService(service, logger, opts), nil
}

// NewClientFromService wraps an already configured calendar service.
func NewClientFromService(service *calendar.Service, logger *slog.Logger, opts Options) *CalendarClient {
	return &CalendarClient{service: service, logger: logger, opts: opts}
}

// ListEvents lazily yields the single (recurrence-expanded) events of
// calendarID inside w, in start time order, following page tokens until
// the API stops returning one. A failed page yields its error once and
// ends the sequence; events from earlier pages have already been yielded.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, w models.TimeWindow) iter.Seq2[models.RawEvent, error] {
	return func(yield func(models.RawEvent, error) bool) {
		tmin := w.Min.UTC().Format(time.RFC3339)
		tmax := w.Max.UTC().Format(time.RFC3339)
		pageToken := ""

		for page := 1; ; page++ {
			c.logger.Debug("Fetching events page", "calendarID", calendarID, "page", page)
			events, err := c.fetchPage(ctx, calendarID, tmin, tmax, pageToken)
			if err != nil {
				yield(models.RawEvent{}, fmt.Errorf("failed to retrieve events page %d for %s: %w", page, calendarID, err))
				return
			}

			for _, item := range events.Items {
				if !yield(toRawEvent(item), nil) {
					return
				}
			}

			pageToken = events.NextPageToken
			if pageToken == "" {
				c.logger.Debug("Fetched all events pages", "calendarID", calendarID, "pages", page)
				return
			}
		}
	}
}

func (c *CalendarClient) fetchPage(ctx context.Context, calendarID, tmin, tmax, pageToken string) (*calendar.Events, error) {
	if c.opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PageTimeout)
		defer cancel()
	}

	call := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(tmin).
		TimeMax(tmax).
		OrderBy("startTime").
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// toRawEvent converts a Google Calendar event to the source-neutral form.
func toRawEvent(item *calendar.Event) models.RawEvent {
	ev := models.RawEvent{
		ID:       item.Id,
		Title:    item.Summary,
		Location: item.Location,
	}
	if item.Start != nil {
		ev.Start = models.EventTime{DateTime: item.Start.DateTime, Date: item.Start.Date}
	}
	if item.End != nil {
		ev.End = models.EventTime{DateTime: item.End.DateTime, Date: item.End.Date}
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, models.Attendee{Email: a.Email})
	}
	return ev
}

// DiscoverCalendars lists the IDs of every calendar visible to the client.
func (c *CalendarClient) DiscoverCalendars(ctx context.Context) ([]string, error) {
	var calendarIDs []string
	err := c.service.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			calendarIDs = append(calendarIDs, item.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendarIDs, nil
}

// TokenFile is where the auth command stores the token for accountName.
func TokenFile(accountName string) string {
	return fmt.Sprintf("token-%s.json", accountName)
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig prefers explicit client credentials over a local credentials.json.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken writes token to path, readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
