package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
menu: ./menu.cue
sim:
  seats: 3
  seed: 42
  timing:
    decision_time: 4s
gateway:
  tick_interval: 100ms
kafka:
  brokers: [localhost:9092]
`))
	require.NoError(t, err)

	assert.Equal(t, "./menu.cue", cfg.Menu)
	assert.Equal(t, 3, cfg.Sim.Seats)
	assert.Equal(t, int64(42), cfg.Sim.Seed)
	assert.Equal(t, 4*time.Second, cfg.Sim.Timing.DecisionTime)
	assert.Equal(t, 100*time.Millisecond, cfg.Gateway.TickInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)

	def := Default()
	assert.Equal(t, def.Sim.MaxCustomers, cfg.Sim.MaxCustomers, "unset keys keep defaults")
	assert.Equal(t, def.Sim.Timing.EatingDuration, cfg.Sim.Timing.EatingDuration)
	assert.Equal(t, def.Gateway.Outbox, cfg.Gateway.Outbox)
	assert.Equal(t, "cafe.orders", cfg.Kafka.OrdersTopic)
	require.NoError(t, cfg.Validate())
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("sim:\n  seets: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seets")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CAFESYNC_JWT_SECRET":    "from-env-secret-value",
		"CAFESYNC_DB":            "/tmp/cafe.db",
		"CAFESYNC_KAFKA_BROKERS": " a:9092, b:9092 ,",
		"CAFESYNC_SEED":          "99",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "from-env-secret-value", cfg.HTTP.JWTSecret)
	assert.Equal(t, "/tmp/cafe.db", cfg.Store.Path)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(99), cfg.Sim.Seed)
	assert.Equal(t, ":8080", cfg.HTTP.Addr, "unset variables leave values alone")

	env["CAFESYNC_SEED"] = "lots"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad sim", func(c *Config) { c.Sim.Seats = -1 }},
		{"negative tick", func(c *Config) { c.Gateway.TickInterval = -time.Second }},
		{"no outbox", func(c *Config) { c.Gateway.Outbox = 0 }},
		{"amqp without queue", func(c *Config) { c.AMQP.URL = "amqp://x"; c.AMQP.IntentQueue = "" }},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.DeltasTopic = "" }},
		{"baristas without think time", func(c *Config) { c.Autostaff.Baristas = 2; c.Autostaff.ThinkTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cafesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: cafe.db\n  checkpoint_every: 10\n"), 0o644))
	t.Setenv("CAFESYNC_HTTP_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cafe.db", cfg.Store.Path)
	assert.Equal(t, int64(10), cfg.Store.CheckpointEvery)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
