package sim

import (
	"fmt"
	"time"

	"github.com/roach88/cafesync/internal/customer"
)

// Config holds the knobs of a World.
type Config struct {
	Seats int `yaml:"seats"`

	// AutoSpawn lets the world create customers on its own every
	// SpawnInterval while fewer than MaxCustomers are present.
	AutoSpawn     bool          `yaml:"auto_spawn"`
	SpawnInterval time.Duration `yaml:"spawn_interval"`
	MaxCustomers  int           `yaml:"max_customers"`

	// MinItems and MaxItems bound the number of picks in a synthesized order.
	MinItems int `yaml:"min_items"`
	MaxItems int `yaml:"max_items"`

	// FixedWindow, when set, replaces the summed preparation time.
	FixedWindow     time.Duration `yaml:"fixed_window"`
	DeadlineCeiling time.Duration `yaml:"deadline_ceiling"`

	// PatienceLossMin and PatienceLossMax bound the loss per interval.
	PatienceLossMin float64 `yaml:"patience_loss_min"`
	PatienceLossMax float64 `yaml:"patience_loss_max"`

	HistoryLimit int `yaml:"history_limit"`

	Seed  int64     `yaml:"seed"`
	Start time.Time `yaml:"start"`

	Timing customer.Timing `yaml:"timing"`
}

// DefaultConfig returns the house configuration.
func DefaultConfig() Config {
	return Config{
		Seats:           8,
		SpawnInterval:   5 * time.Second,
		MaxCustomers:    50,
		MinItems:        1,
		MaxItems:        3,
		PatienceLossMin: 1,
		PatienceLossMax: 3,
		HistoryLimit:    1000,
		Seed:            1,
		Start:           time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		Timing:          customer.DefaultTiming(),
	}
}

// Validate rejects configurations the world cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Seats < 0:
		return fmt.Errorf("seats must not be negative, got %d", c.Seats)
	case c.AutoSpawn && c.SpawnInterval <= 0:
		return fmt.Errorf("spawn_interval must be positive when auto_spawn is on")
	case c.MaxCustomers < 0:
		return fmt.Errorf("max_customers must not be negative, got %d", c.MaxCustomers)
	case c.MinItems < 1 || c.MaxItems < c.MinItems:
		return fmt.Errorf("item bounds must satisfy 1 <= min_items <= max_items, got %d..%d", c.MinItems, c.MaxItems)
	case c.PatienceLossMin < 0 || c.PatienceLossMax < c.PatienceLossMin:
		return fmt.Errorf("patience loss bounds must satisfy 0 <= min <= max, got %g..%g", c.PatienceLossMin, c.PatienceLossMax)
	case c.FixedWindow < 0 || c.DeadlineCeiling < 0:
		return fmt.Errorf("preparation windows must not be negative")
	case c.Timing.PatienceInterval <= 0:
		return fmt.Errorf("timing.patience_interval must be positive")
	}
	return nil
}
