package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/store"
)

// journalShift runs a short simulated shift into a fresh database with a
// tight checkpoint interval and returns the database path.
func journalShift(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cafe.db")
	cfgPath := filepath.Join(dir, "cafe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  checkpoint_every: 10\n"), 0o644))

	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", dbPath, "-c", cfgPath, "--duration", "2m", "--seed", "3"})
	require.NoError(t, cmd.Execute())
	return dbPath
}

func executeReplay(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := executeReplay(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayDatabaseNotFound(t *testing.T) {
	_, err := executeReplay(t, "text", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No runs found in database.")
}

func TestReplayVerifiesJournaledShift(t *testing.T) {
	dbPath := journalShift(t)

	buf, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Replay of run 1:")
	assert.Contains(t, output, "✓ Replay matches every checkpoint")
}

func TestReplayJSON(t *testing.T) {
	dbPath := journalShift(t)

	buf, err := executeReplay(t, "json", "--db", dbPath, "--run", "1")
	require.NoError(t, err)

	var resp struct {
		Status  string       `json:"status"`
		TraceID string       `json:"trace_id"`
		Data    ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.TraceID)
	assert.True(t, resp.Data.Deterministic)
	assert.Positive(t, resp.Data.Deltas)
	assert.Positive(t, resp.Data.Checkpoints)
	assert.Equal(t, resp.Data.Checkpoints, resp.Data.Verified)
	assert.NotEmpty(t, resp.Data.Digest)
}

func TestReplayDetectsTamperedCheckpoint(t *testing.T) {
	dbPath := journalShift(t)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE checkpoints SET digest = 'tampered'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf, err := executeReplay(t, "json", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDeterminism, resp.Error.Code)
}

func TestReplayDetectsGap(t *testing.T) {
	dbPath := journalShift(t)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`DELETE FROM deltas WHERE seq = 3`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf, err := executeReplay(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ ")
	assert.Contains(t, buf.String(), "last seq 2")
}
