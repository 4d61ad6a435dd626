// knxlog - KNX bus telemetry logger
//
// knxlog listens to group telegrams through knxd, decodes them against the
// ETS address book and persists every event to an SQL audit log and a
// per-datapoint value table. Decoded values can additionally be mirrored
// to InfluxDB and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/config"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
	"github.com/nerrad567/knxlog/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxlog/internal/infrastructure/logging"
	"github.com/nerrad567/knxlog/internal/infrastructure/metrics"
	"github.com/nerrad567/knxlog/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxlog/internal/ingest"
	"github.com/nerrad567/knxlog/internal/persist"
	"github.com/nerrad567/knxlog/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "KNXLOG_CONFIG"

	// engineStopTimeout bounds the wait for the in-flight event on shutdown.
	engineStopTimeout = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("knxlog", pflag.ContinueOnError)
	flags.SetOutput(stdout)
	configFlag := flags.StringP("config", "c", "", "path to config.yaml (default $"+configEnv+" or "+defaultConfigPath+")")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "knxlog %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting knxlog",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"site", cfg.Site.ID,
		"timezone", cfg.Site.Timezone,
	)
	for _, w := range cfg.Warnings() {
		log.Warn("configuration warning", "detail", w)
	}

	book, err := registry.Load(cfg.Registry, log.With("component", "registry"))
	if err != nil {
		return fmt.Errorf("loading address book: %w", err)
	}

	// A database that never answered is a configuration problem, not an
	// outage, so it is fatal here. Later losses are the engine's job.
	dbCfg := databaseConfig(cfg.Database)
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "driver", db.Dialect(), "path", cfg.Database.Path)

	m := metrics.New(version)
	if cfg.Metrics.Enabled {
		srv, serveErr := metrics.Serve(ctx, cfg.Metrics, m, log.With("component", "metrics"))
		if serveErr != nil {
			db.Close() //nolint:errcheck // startup failed anyway
			return fmt.Errorf("starting metrics server: %w", serveErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing metrics server", "error", closeErr)
			}
		}()
	} else {
		log.Info("metrics disabled")
	}

	mirrors, closeMirrors, err := connectMirrors(ctx, cfg, log)
	if err != nil {
		db.Close() //nolint:errcheck // startup failed anyway
		return err
	}
	defer closeMirrors()

	queue := ingest.NewQueue()
	intake, err := ingest.NewIntake(ingest.IntakeOptions{
		Registry: book,
		Queue:    queue,
		Logger:   log.With("component", "intake"),
		Metrics:  m,
		Location: cfg.Location(),
	})
	if err != nil {
		db.Close() //nolint:errcheck // startup failed anyway
		return fmt.Errorf("creating intake: %w", err)
	}

	engine, err := persist.NewEngine(persist.Options{
		Queue: queue,
		DB:    db,
		Dialer: func(ctx context.Context) (*database.DB, error) {
			return database.Open(ctx, dbCfg)
		},
		Logger:            log.With("component", "persist"),
		Metrics:           m,
		Mirrors:           mirrors,
		PollInterval:      cfg.PollInterval(),
		ReconnectInterval: cfg.ReconnectInterval(),
		HealthTimeout:     cfg.HealthTimeout(),
		RetentionMonths:   cfg.Pipeline.RetentionMonths,
	})
	if err != nil {
		db.Close() //nolint:errcheck // startup failed anyway
		return fmt.Errorf("creating persistence engine: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := engine.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	engineCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEngine()
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	listener, err := knx.Listen(ctx, knxdConfig(cfg), intake.HandleTelegram, log.With("component", "knxd"))
	if err != nil {
		stopEngine()
		<-engineDone
		return fmt.Errorf("connecting to knxd: %w", err)
	}
	log.Info("knxd listener started", "connection", cfg.KNXD.Connection)

	log.Info("initialisation complete, waiting for shutdown signal",
		"datapoints", book.Len(),
		"mirrors", len(mirrors),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-engineDone:
		// Run returns only once engineCtx is done, so this is unexpected.
		log.Error("persistence engine stopped unexpectedly", "error", runErr)
		engineDone = nil
	}

	// Stop the producer first so nothing new is queued, then let the
	// engine finish the event it holds.
	if closeErr := listener.Close(); closeErr != nil {
		log.Error("error closing knxd listener", "error", closeErr)
	}
	stats := listener.Stats()
	log.Info("knxd listener stopped",
		"telegrams", stats.TelegramsRx,
		"errors", stats.ErrorsTotal,
		"reconnects", stats.ReconnectsTotal,
	)

	if engineDone != nil {
		stopEngine()
		select {
		case runErr = <-engineDone:
		case <-time.After(engineStopTimeout):
			// The deferred engine.Close abandons any reconnect still running.
			log.Warn("persistence engine did not stop in time", "timeout", engineStopTimeout.String())
			runErr = fmt.Errorf("persistence engine did not stop within %s", engineStopTimeout)
		}
	}
	if runErr != nil && !errors.Is(runErr, persist.ErrShutdown) {
		return fmt.Errorf("persistence engine: %w", runErr)
	}
	if pending := queue.Len(); pending > 0 {
		log.Warn("events left unpersisted", "pending", pending)
	}

	log.Info("knxlog stopped")
	return nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then KNXLOG_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

func databaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
		DSN:         cfg.DSN,
	}
}

func knxdConfig(cfg *config.Config) knx.KNXDConfig {
	return knx.KNXDConfig{
		Connection:        cfg.KNXD.Connection,
		ConnectTimeout:    time.Duration(cfg.KNXD.ConnectTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.KNXD.ReadTimeout) * time.Second,
		ReconnectInterval: time.Duration(cfg.KNXD.ReconnectInterval) * time.Second,
		Location:          cfg.Location(),
	}
}

// connectMirrors connects the optional InfluxDB and MQTT mirrors. The
// returned func closes whatever was opened, in reverse order.
func connectMirrors(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]persist.Mirror, func(), error) {
	var (
		mirrors []persist.Mirror
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		mirrors = append(mirrors, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		closers = append(closers, func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		})
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		publisher, err := mqtt.NewEventPublisher(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS)) //nolint:gosec // QoS validated 0-2
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("creating MQTT publisher: %w", err)
		}
		mirrors = append(mirrors, publisher)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	return mirrors, closeAll, nil
}
