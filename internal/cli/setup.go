package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/cafesync/internal/config"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/store"
)

// loadConfig reads path over the defaults and the environment.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// loadCatalog returns the menu at path, or the house menu.
func loadCatalog(path string) (*menu.Catalog, error) {
	if path == "" {
		return menu.Default(), nil
	}
	catalog, err := menu.LoadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load menu", err)
	}
	return catalog, nil
}

// openStore opens an existing database. Commands that only read never
// create one by accident.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set store.path")
	}
	if err := requireFile(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openOrCreateStore opens path, creating the database if needed.
func openOrCreateStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// resolveRun returns runID, or the latest run when runID is 0.
func resolveRun(ctx context.Context, st *store.Store, runID int64) (int64, error) {
	if runID != 0 {
		return runID, nil
	}
	latest, err := st.LatestRun(ctx)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "failed to find latest run", err)
	}
	return latest, nil
}

func closeStore(st *store.Store, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

// runLabel names a run for the stores that key by label. Without a local
// journal the seed identifies it.
func runLabel(label string, runID, seed int64) string {
	switch {
	case label != "":
		return label
	case runID != 0:
		return fmt.Sprintf("run-%d", runID)
	}
	return fmt.Sprintf("seed-%d", seed)
}

func requireFile(path string) error {
	_, err := os.Stat(path)
	return err
}
