package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cafe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func beginTestRun(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.BeginRun(context.Background(), "test", 1, t0)
	require.NoError(t, err)
	return id
}
