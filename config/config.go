/*
Package config resolves runtime settings and builds the process-wide
dependencies (logger, store, event dispatcher) from them.

SOURCES (lowest to highest precedence):
  1. Defaults
  2. Environment (LEASE_*), with an optional .env file loaded by godotenv
  3. Command-line flags (cmd/server binds its flags onto a Config)

VARIABLES:
  LEASE_PORT                   HTTP port (8080)
  LEASE_STORE                  memory | sqlite | bolt | dynamodb (sqlite)
  LEASE_DB_PATH                file for sqlite/bolt (lease.db)
  LEASE_DYNAMODB_TABLE_PREFIX  table name prefix (lease-)
  LEASE_EVENTS                 log | sqs (log)
  LEASE_SQS_QUEUE_URL          required when LEASE_EVENTS=sqs
  LEASE_SWEEP_INTERVAL         Go duration, 0 disables the scheduler (1h)
  LEASE_LOG_LEVEL              debug | info | warn | error (info)
  LEASE_LOG_FORMAT             text | json (text)

SEE ALSO:
  - cmd/server, cmd/sweep_lambda, cmd/payments_lambda: the callers
*/
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/notify"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/store/bolt"
	"github.com/warp/lease-engine/store/dynamo"
	"github.com/warp/lease-engine/store/memory"
	"github.com/warp/lease-engine/store/sqlite"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StoreDynamoDB = "dynamodb"

	EventsLog = "log"
	EventsSQS = "sqs"
)

type Config struct {
	Port              int
	Store             string
	DBPath            string
	DynamoTablePrefix string
	Events            string
	SQSQueueURL       string
	SweepInterval     time.Duration
	LogLevel          string
	LogFormat         string
}

func Default() Config {
	return Config{
		Port:              8080,
		Store:             StoreSQLite,
		DBPath:            "lease.db",
		DynamoTablePrefix: "lease-",
		Events:            EventsLog,
		SweepInterval:     time.Hour,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv overlays LEASE_* variables onto the defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LEASE_STORE", &c.Store)
	str("LEASE_DB_PATH", &c.DBPath)
	str("LEASE_DYNAMODB_TABLE_PREFIX", &c.DynamoTablePrefix)
	str("LEASE_EVENTS", &c.Events)
	str("LEASE_SQS_QUEUE_URL", &c.SQSQueueURL)
	str("LEASE_LOG_LEVEL", &c.LogLevel)
	str("LEASE_LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("LEASE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("invalid LEASE_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("LEASE_SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("invalid LEASE_SWEEP_INTERVAL %q: %w", v, err)
		}
		c.SweepInterval = d
	}
	return c, nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreDynamoDB:
	case StoreSQLite, StoreBolt:
		if c.DBPath == "" {
			return fmt.Errorf("store %s needs a database path", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Events {
	case EventsLog:
	case EventsSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("events=sqs needs LEASE_SQS_QUEUE_URL")
		}
	default:
		return fmt.Errorf("unknown events sink %q", c.Events)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval cannot be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Logger builds the slog logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Deps lazily loads the AWS configuration shared by the DynamoDB store and
// the SQS dispatcher.
type Deps struct {
	Config Config
	aws    *aws.Config
}

func NewDeps(c Config) *Deps { return &Deps{Config: c} }

func (d *Deps) awsConfig(ctx context.Context) (aws.Config, error) {
	if d.aws == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
		}
		d.aws = &cfg
	}
	return *d.aws, nil
}

// OpenStore opens the configured backend.
func (d *Deps) OpenStore(ctx context.Context) (store.Store, error) {
	switch d.Config.Store {
	case StoreMemory:
		return memory.New(), nil
	case StoreSQLite:
		return sqlite.New(d.Config.DBPath)
	case StoreBolt:
		return bolt.New(d.Config.DBPath)
	case StoreDynamoDB:
		cfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.New(dynamodb.NewFromConfig(cfg), d.Config.DynamoTablePrefix), nil
	default:
		return nil, fmt.Errorf("unknown store %q", d.Config.Store)
	}
}

// Dispatcher builds the configured event sink, followed by extra
// dispatchers (typically the catalog release).
func (d *Deps) Dispatcher(ctx context.Context, logger *slog.Logger, extra ...generic.Dispatcher) (generic.Dispatcher, error) {
	var sink generic.Dispatcher
	switch d.Config.Events {
	case EventsLog:
		sink = notify.NewLog(logger)
	case EventsSQS:
		cfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		sink = notify.NewSQS(sqs.NewFromConfig(cfg), d.Config.SQSQueueURL)
	default:
		return nil, fmt.Errorf("unknown events sink %q", d.Config.Events)
	}
	return append(notify.Multi{sink}, extra...), nil
}
