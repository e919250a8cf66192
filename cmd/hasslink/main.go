// hasslink relays a Home Assistant gateway onto local infrastructure.
//
// It holds one authenticated WebSocket connection to the gateway, subscribes
// to the configured event types and fans every event out to the SQLite
// journal, MQTT and InfluxDB. Service calls published on MQTT are relayed
// back to the gateway. A small HTTP server exposes health and metrics.
//
// The process exits non-zero when the gateway connection is lost; restarting
// is left to the supervisor (systemd, Docker).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hasslink/internal/auth"
	"github.com/nerrad567/hasslink/internal/infrastructure/config"
	"github.com/nerrad567/hasslink/internal/infrastructure/database"
	"github.com/nerrad567/hasslink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/internal/relay"
	"github.com/nerrad567/hasslink/internal/status"
	"github.com/nerrad567/hasslink/migrations"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// tokenExpiryWarning is how far ahead an expiring access token is reported.
const tokenExpiryWarning = 7 * 24 * time.Hour

// ErrGatewayLost is returned by run when the gateway connection ends while
// the process was not shutting down.
var ErrGatewayLost = errors.New("gateway connection lost")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting hasslink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	checkToken(log, cfg.Gateway.Token)

	checks := make(map[string]status.HealthChecker)

	// Journal (optional)
	var repo journal.Repository
	if cfg.Journal.Enabled {
		db, dbErr := openDatabase(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("journal enabled", "path", cfg.Database.Path, "retention", cfg.GetJournalRetention())
		repo = journal.NewSQLiteRepository(db.DB)
		checks["database"] = db
	} else {
		log.Info("journal disabled")
	}

	// MQTT (optional)
	var publisher relay.Publisher
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
			"topic_prefix", mqttClient.Topics().Prefix(),
		)
		publisher = mqttClient
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var states relay.StateWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		states = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Gateway
	metrics, err := hass.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	gw, err := connectGateway(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing gateway connection")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	// Local WebSocket event stream, served by the status server
	var (
		hub    *status.Hub
		stream relay.Broadcaster
	)
	if cfg.Status.Enabled {
		hub = status.NewHub(log)
		stream = hub
	}

	rel := relay.New(gw, relay.Config{
		Journal:        repo,
		Publisher:      publisher,
		States:         states,
		Stream:         stream,
		EventTypes:     cfg.Subscriptions.EventTypes,
		Retention:      cfg.GetJournalRetention(),
		RequestTimeout: cfg.GetRequestTimeout(),
	})
	rel.SetLogger(log.Component("relay"))

	// Status server (optional)
	if cfg.Status.Enabled {
		srv, srvErr := status.New(status.Deps{
			Addr:     cfg.StatusAddr(),
			Logger:   log,
			Gateway:  gw,
			Relay:    rel,
			Journal:  repo,
			Checks:   checks,
			Hub:      hub,
			Gatherer: prometheus.DefaultGatherer,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating status server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return startErr
		}
		defer func() {
			log.Info("stopping status server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping status server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, relaying events",
		"event_types", cfg.Subscriptions.EventTypes,
	)

	runErr := rel.Run(ctx)
	if ctx.Err() == nil {
		// The relay only stops on its own when the gateway went away.
		if runErr == nil {
			return ErrGatewayLost
		}
		return fmt.Errorf("%w: %w", ErrGatewayLost, runErr)
	}

	log.Info("shutdown signal received, cleaning up", "stats", rel.Stats())

	// Deferred Close() calls run in reverse order: status server, gateway,
	// InfluxDB, MQTT, database.
	return nil
}

// checkToken logs what can be learned from the access token without
// verifying it. Only the redacted form is ever logged.
func checkToken(log *logging.Logger, token string) {
	info, err := auth.Check(token, time.Now())
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		log.Warn("access token has expired, authentication will likely fail",
			"token", auth.Redact(token),
			"expired_at", info.ExpiresAt,
		)
	case err != nil:
		log.Warn("access token could not be inspected", "token", auth.Redact(token), "error", err)
	case info == nil:
		log.Debug("access token is opaque", "token", auth.Redact(token))
	case info.ExpiresWithin(time.Now(), tokenExpiryWarning):
		log.Warn("access token expires soon",
			"token", auth.Redact(token),
			"expires_in", info.Remaining(time.Now()).Round(time.Minute),
		)
	default:
		log.Debug("access token accepted", "token", auth.Redact(token), "issuer", info.Issuer)
	}
}

// openDatabase opens the SQLite database and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // the migration error is more useful
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectGateway dials and authenticates within the configured connect timeout.
func connectGateway(ctx context.Context, cfg *config.Config, log *logging.Logger, metrics *hass.Metrics) (*hass.Client, error) {
	connectCtx := ctx
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	gw, err := hass.Connect(connectCtx, cfg.Gateway.URL, cfg.Gateway.Token,
		hass.WithLogger(log.Component("gateway")),
		hass.WithMetrics(metrics),
		hass.WithQueueSize(cfg.Gateway.QueueSize),
		hass.WithEventBuffer(cfg.Gateway.EventBuffer),
	)
	if err != nil {
		var gwErr *hass.GatewayError
		if errors.As(err, &gwErr) || errors.Is(err, hass.ErrAuthenticationFailed) {
			return nil, fmt.Errorf("authenticating with gateway (token %s): %w", auth.Redact(cfg.Gateway.Token), err)
		}
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}

	log.Info("gateway authenticated",
		"url", cfg.Gateway.URL,
		"gateway_version", gw.GatewayVersion(),
	)
	return gw, nil
}
