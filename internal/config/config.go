// Package config assembles the service configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultListen         = ":3000"
	DefaultRequestTimeout = 15 * time.Second
)

// ServiceAccount mirrors the Google service account key file, so it can be
// supplied as individual environment variables instead of a file.
type ServiceAccount struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain,omitempty"`
}

// Google holds calendar IDs and one of the supported credential modes.
type Google struct {
	CalendarIDs []string

	// Service account: a key file, or the key's fields from the environment.
	CredentialsFile string
	ServiceAccount  *ServiceAccount

	// Installed-app OAuth, with the token saved by the auth command.
	OAuthClientID     string
	OAuthClientSecret string
	Account           string
}

// CalDAV configures the optional CalDAV calendars.
type CalDAV struct {
	Endpoint  string
	Username  string
	Password  string
	Calendars []string
}

// Geocoding configures the provider chain.
type Geocoding struct {
	GeocodioAPIKey     string
	GeocodioURL        string
	NominatimURL       string
	NominatimUserAgent string
}

// Config is built once at startup and handed to each component.
type Config struct {
	Listen         string
	LogLevel       string
	StaticDir      string
	RequestTimeout time.Duration

	Google    Google
	CalDAV    CalDAV
	Geocoding Geocoding
}

// Load reads the configuration through getenv (normally os.Getenv).
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Listen:         getenv("LISTEN_ADDR"),
		LogLevel:       getenv("LOG_LEVEL"),
		StaticDir:      getenv("STATIC_DIR"),
		RequestTimeout: DefaultRequestTimeout,
		Google: Google{
			CalendarIDs:       splitList(getenv("GOOGLE_CALENDAR_IDS")),
			CredentialsFile:   getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			OAuthClientID:     getenv("GOOGLE_OAUTH_CLIENT_ID"),
			OAuthClientSecret: getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
			Account:           getenv("GOOGLE_ACCOUNT"),
		},
		CalDAV: CalDAV{
			Endpoint:  getenv("CALDAV_ENDPOINT"),
			Username:  getenv("CALDAV_USERNAME"),
			Password:  getenv("CALDAV_PASSWORD"),
			Calendars: splitList(getenv("CALDAV_CALENDARS")),
		},
		Geocoding: Geocoding{
			GeocodioAPIKey:     getenv("GEOCODIO_API_KEY"),
			GeocodioURL:        getenv("GEOCODIO_URL"),
			NominatimURL:       getenv("NOMINATIM_URL"),
			NominatimUserAgent: getenv("NOMINATIM_USER_AGENT"),
		},
	}

	if cfg.Listen == "" {
		if port := getenv("PORT"); port != "" {
			cfg.Listen = ":" + port
		} else {
			cfg.Listen = DefaultListen
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}

	if key := getenv("GOOGLE_PRIVATE_KEY"); key != "" {
		cfg.Google.ServiceAccount = &ServiceAccount{
			Type:                    getenv("GOOGLE_SERVICE_ACCOUNT_TYPE"),
			ProjectID:               getenv("GOOGLE_PROJECT_ID"),
			PrivateKeyID:            getenv("GOOGLE_PRIVATE_KEY_ID"),
			PrivateKey:              strings.ReplaceAll(key, `\n`, "\n"),
			ClientEmail:             getenv("GOOGLE_CLIENT_EMAIL"),
			ClientID:                getenv("GOOGLE_CLIENT_ID"),
			AuthURI:                 getenv("GOOGLE_AUTH_URI"),
			TokenURI:                getenv("GOOGLE_TOKEN_URI"),
			AuthProviderX509CertURL: getenv("GOOGLE_AUTH_PROVIDER_X509_CERT_URL"),
			ClientX509CertURL:       getenv("GOOGLE_CLIENT_X509_CERT_URL"),
			UniverseDomain:          getenv("GOOGLE_UNIVERSE_DOMAIN"),
		}
		if cfg.Google.ServiceAccount.Type == "" {
			cfg.Google.ServiceAccount.Type = "service_account"
		}
	}

	return cfg, nil
}

// Validate reports every problem that would prevent serving events.
func (c Config) Validate() error {
	var errs []error
	if len(c.Google.CalendarIDs) == 0 && len(c.CalDAV.Calendars) == 0 {
		errs = append(errs, errors.New("no calendars configured: set GOOGLE_CALENDAR_IDS and/or CALDAV_CALENDARS"))
	}
	if len(c.Google.CalendarIDs) > 0 && c.Google.Mode() == AuthNone {
		errs = append(errs, errors.New("google calendars configured without credentials: set GOOGLE_APPLICATION_CREDENTIALS, GOOGLE_PRIVATE_KEY/GOOGLE_CLIENT_EMAIL, or GOOGLE_OAUTH_CLIENT_ID/GOOGLE_OAUTH_CLIENT_SECRET/GOOGLE_ACCOUNT"))
	}
	if sa := c.Google.ServiceAccount; sa != nil && sa.ClientEmail == "" {
		errs = append(errs, errors.New("GOOGLE_PRIVATE_KEY is set but GOOGLE_CLIENT_EMAIL is empty"))
	}
	if len(c.CalDAV.Calendars) > 0 && c.CalDAV.Username == "" {
		errs = append(errs, errors.New("caldav calendars configured without CALDAV_USERNAME"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must not be negative"))
	}
	return errors.Join(errs...)
}

// AuthMode is how the Google client authenticates.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthServiceAccount
	AuthOAuth
)

// Mode picks the credential mode; a service account wins over OAuth.
func (g Google) Mode() AuthMode {
	switch {
	case g.CredentialsFile != "" || g.ServiceAccount != nil:
		return AuthServiceAccount
	case g.OAuthClientID != "" && g.OAuthClientSecret != "" && g.Account != "":
		return AuthOAuth
	default:
		return AuthNone
	}
}

// ServiceAccountJSON returns the key file content for the service account.
func (g Google) ServiceAccountJSON() ([]byte, error) {
	if g.CredentialsFile != "" {
		b, err := os.ReadFile(g.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account file: %w", err)
		}
		return b, nil
	}
	if g.ServiceAccount == nil {
		return nil, errors.New("no service account configured")
	}
	return json.Marshal(g.ServiceAccount)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
