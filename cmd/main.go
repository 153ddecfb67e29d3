package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fieldmap/internal/aggregator"
	"fieldmap/internal/api"
	"fieldmap/internal/config"
	"fieldmap/internal/export"
	"fieldmap/internal/geocode"
	"fieldmap/internal/google"
	"fieldmap/internal/icloud"
	"fieldmap/internal/models"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "fieldmap",
		Usage: "Serve calendar events placed on a map.",
		Commands: []*cli.Command{
			serveCommand(),
			eventsCommand(),
			calendarsCommand(),
			authCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address, overrides LISTEN_ADDR/PORT."},
			&cli.StringFlag{Name: "static", Usage: "Directory with the map front-end, overrides STATIC_DIR."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if c.IsSet("listen") {
				cfg.Listen = c.String("listen")
			}
			if c.IsSet("static") {
				cfg.StaticDir = c.String("static")
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			agg, err := buildAggregator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			handler := api.NewHandler(agg, logger.With("component", "api"))
			e := api.NewServer(logger, handler, cfg.StaticDir)
			httpServer := &http.Server{
				Addr:              cfg.Listen,
				Handler:           e,
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Server starting", "addr", cfg.Listen)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print the aggregated events for a window and exit.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "time-min", Required: true, Usage: "Start of the window, e.g. 2024-01-01T00:00:00Z."},
			&cli.StringFlag{Name: "time-max", Required: true, Usage: "End of the window."},
			&cli.StringFlag{Name: "format", Value: "json", Usage: "Output format: json or ics."},
		},
		Action: func(c *cli.Context) error {
			format := strings.ToLower(c.String("format"))
			if format != "json" && format != "ics" {
				return fmt.Errorf("unknown format %q", format)
			}

			w, err := models.ParseTimeWindow(c.String("time-min"), c.String("time-max"))
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			agg, err := buildAggregator(c.Context, cfg, logger)
			if err != nil {
				return err
			}

			events, err := agg.Aggregate(c.Context, w)
			if err != nil {
				return err
			}

			if format == "ics" {
				if err := export.WriteICS(os.Stdout, events, time.Now()); err != nil && !errors.Is(err, export.ErrNoEvents) {
					return err
				}
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendar IDs visible to the configured credentials.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(os.Getenv)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			gClient, err := newGoogleClient(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			ids, err := gClient.DiscoverCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_OAUTH_CLIENT_ID"), os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (used as GOOGLE_ACCOUNT): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := google.TokenFile(accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := setupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

// buildAggregator wires the calendar sources and the geocoder chain.
// Google calendars come first, then CalDAV calendars, each in configured order.
func buildAggregator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*aggregator.Aggregator, error) {
	var calendars []aggregator.Calendar

	if len(cfg.Google.CalendarIDs) > 0 {
		gClient, err := newGoogleClient(ctx, cfg, logger.With("component", "google"))
		if err != nil {
			return nil, err
		}
		for _, id := range cfg.Google.CalendarIDs {
			calendars = append(calendars, aggregator.Calendar{ID: id, Source: gClient})
		}
	}

	if len(cfg.CalDAV.Calendars) > 0 {
		dav, err := icloud.NewClient(logger.With("component", "caldav"), cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		for _, name := range cfg.CalDAV.Calendars {
			calendars = append(calendars, aggregator.Calendar{ID: name, Source: dav})
		}
	}

	if cfg.Geocoding.GeocodioAPIKey == "" {
		logger.Warn("GEOCODIO_API_KEY not set, every address will fall back to Nominatim.")
	}
	resolver := geocode.NewResolver(logger.With("component", "geocode"),
		geocode.NewGeocodio(cfg.Geocoding.GeocodioAPIKey, cfg.Geocoding.GeocodioURL, cfg.RequestTimeout),
		geocode.NewNominatim(cfg.Geocoding.NominatimURL, cfg.Geocoding.NominatimUserAgent, cfg.RequestTimeout),
	)

	logger.Info("Configured calendars.", "count", len(calendars))
	return aggregator.New(logger.With("component", "aggregator"), resolver, calendars), nil
}

func newGoogleClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*google.CalendarClient, error) {
	opts := google.Options{PageTimeout: cfg.RequestTimeout}

	switch cfg.Google.Mode() {
	case config.AuthServiceAccount:
		creds, err := cfg.Google.ServiceAccountJSON()
		if err != nil {
			return nil, err
		}
		client, err := google.NewServiceAccountClient(ctx, logger, creds, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client: %w", err)
		}
		return client, nil
	case config.AuthOAuth:
		client, err := google.NewClient(ctx, logger, cfg.Google.OAuthClientID, cfg.Google.OAuthClientSecret, cfg.Google.Account, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", cfg.Google.Account, err)
		}
		return client, nil
	default:
		return nil, errors.New("no google credentials configured")
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
