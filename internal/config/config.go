// Package config loads the cafesync configuration file.
//
// Values come from three layers: built-in defaults, the YAML file, then
// CAFESYNC_* environment variables for endpoints and secrets. Unknown YAML
// keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cafesync/internal/sim"
)

// Config is the whole file.
type Config struct {
	// Menu is a CUE menu file. Empty uses the built-in menu.
	Menu string `yaml:"menu"`

	Sim       sim.Config `yaml:"sim"`
	Gateway   Gateway    `yaml:"gateway"`
	Store     Store      `yaml:"store"`
	HTTP      HTTP       `yaml:"http"`
	AMQP      AMQP       `yaml:"amqp"`
	Postgres  Postgres   `yaml:"postgres"`
	Kafka     Kafka      `yaml:"kafka"`
	Redis     Redis      `yaml:"redis"`
	Autostaff Autostaff  `yaml:"autostaff"`
}

// Gateway tunes the authority loop.
type Gateway struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Outbox       int           `yaml:"outbox"`
}

// Store configures the SQLite journal and history.
type Store struct {
	// Path of the database. Empty disables persistence.
	Path            string `yaml:"path"`
	CheckpointEvery int64  `yaml:"checkpoint_every"`
	Label           string `yaml:"label"`
}

// HTTP configures the gin transport.
type HTTP struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// AMQP configures the RabbitMQ transport. An empty URL disables it.
type AMQP struct {
	URL         string `yaml:"url"`
	Exchange    string `yaml:"exchange"`
	IntentQueue string `yaml:"intent_queue"`
}

// Postgres configures the reporting sink. An empty DSN disables it.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Kafka configures analytics publishing. No brokers disables it.
type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	OrdersTopic string   `yaml:"orders_topic"`
	DeltasTopic string   `yaml:"deltas_topic"`
}

// Redis configures the scoreboard. An empty address disables it.
type Redis struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// Autostaff configures the built-in baristas.
type Autostaff struct {
	Baristas  int           `yaml:"baristas"`
	ThinkTime time.Duration `yaml:"think_time"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := sim.DefaultConfig()
	s.AutoSpawn = true
	return Config{
		Sim: s,
		Gateway: Gateway{
			TickInterval: 50 * time.Millisecond,
			Outbox:       256,
		},
		Store: Store{
			CheckpointEvery: 100,
		},
		HTTP: HTTP{
			Addr:     ":8080",
			TokenTTL: 12 * time.Hour,
		},
		AMQP: AMQP{
			Exchange:    "cafe.deltas",
			IntentQueue: "cafe.intents",
		},
		Kafka: Kafka{
			OrdersTopic: "cafe.orders",
			DeltasTopic: "cafe.deltas",
		},
		Redis: Redis{
			Prefix: "cafe",
		},
		Autostaff: Autostaff{
			ThinkTime: 2 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies the process environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides endpoints and secrets from CAFESYNC_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CAFESYNC_MENU":          &c.Menu,
		"CAFESYNC_DB":            &c.Store.Path,
		"CAFESYNC_HTTP_ADDR":     &c.HTTP.Addr,
		"CAFESYNC_JWT_SECRET":    &c.HTTP.JWTSecret,
		"CAFESYNC_AMQP_URL":      &c.AMQP.URL,
		"CAFESYNC_POSTGRES_DSN":  &c.Postgres.DSN,
		"CAFESYNC_REDIS_ADDR":    &c.Redis.Addr,
		"CAFESYNC_REDIS_PREFIX":  &c.Redis.Prefix,
		"CAFESYNC_KAFKA_ORDERS":  &c.Kafka.OrdersTopic,
		"CAFESYNC_KAFKA_DELTAS":  &c.Kafka.DeltasTopic,
		"CAFESYNC_AMQP_EXCHANGE": &c.AMQP.Exchange,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	if v, ok := lookup("CAFESYNC_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("CAFESYNC_SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CAFESYNC_SEED: %w", err)
		}
		c.Sim.Seed = seed
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the services cannot start with.
func (c Config) Validate() error {
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	switch {
	case c.Gateway.TickInterval < 0:
		return errors.New("gateway.tick_interval must not be negative")
	case c.Gateway.Outbox < 1:
		return fmt.Errorf("gateway.outbox must be at least 1, got %d", c.Gateway.Outbox)
	case c.Store.CheckpointEvery < 0:
		return errors.New("store.checkpoint_every must not be negative")
	case c.HTTP.TokenTTL < 0:
		return errors.New("http.token_ttl must not be negative")
	case c.AMQP.URL != "" && (c.AMQP.Exchange == "" || c.AMQP.IntentQueue == ""):
		return errors.New("amqp.exchange and amqp.intent_queue are required when amqp.url is set")
	case len(c.Kafka.Brokers) > 0 && (c.Kafka.OrdersTopic == "" || c.Kafka.DeltasTopic == ""):
		return errors.New("kafka topics are required when brokers are set")
	case c.Autostaff.Baristas < 0:
		return fmt.Errorf("autostaff.baristas must not be negative, got %d", c.Autostaff.Baristas)
	case c.Autostaff.Baristas > 0 && c.Autostaff.ThinkTime <= 0:
		return errors.New("autostaff.think_time must be positive")
	}
	return nil
}
