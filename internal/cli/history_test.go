package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/store"
)

var historyStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// seedHistory writes one run with a served and a timed-out order.
func seedHistory(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cafe.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	runID, err := st.BeginRun(ctx, "morning", 7, historyStart)
	require.NoError(t, err)

	records := []history.Record{
		{
			OrderID: 1000, SessionID: "c-1", TakenBy: "barista-1",
			Status: order.StatusCompleted, Total: decimal.RequireFromString("6.50"), ItemCount: 2,
			CreatedAt: historyStart, ClosedAt: historyStart.Add(time.Minute),
		},
		{
			OrderID: 1001, SessionID: "c-2",
			Status: order.StatusCancelled, Reason: "timeout", Total: decimal.RequireFromString("4.00"), ItemCount: 1,
			CreatedAt: historyStart, ClosedAt: historyStart.Add(2 * time.Minute),
		},
	}
	require.NoError(t, st.OrderSink(runID).Write(ctx, records))
	return dbPath
}

func executeHistory(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestHistoryRuns(t *testing.T) {
	dbPath := seedHistory(t)

	buf, err := executeHistory(t, "text", "runs", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "LABEL")
	assert.Contains(t, buf.String(), "morning")
}

func TestHistoryRunsEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	buf, err := executeHistory(t, "text", "runs", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No runs found in database.")

	buf, err = executeHistory(t, "json", "runs", "--db", dbPath)
	require.NoError(t, err)
	var resp struct {
		Data []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

func TestHistoryOrders(t *testing.T) {
	dbPath := seedHistory(t)

	buf, err := executeHistory(t, "text", "orders", "--db", dbPath)
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "1000")
	assert.Contains(t, output, "timeout")
	assert.Contains(t, output, "6.50")
}

func TestHistoryOrdersStatusFilterJSON(t *testing.T) {
	dbPath := seedHistory(t)

	buf, err := executeHistory(t, "json", "orders", "--db", dbPath, "--status", "Cancelled")
	require.NoError(t, err)

	var resp struct {
		Data []history.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(1001), resp.Data[0].OrderID)
}

func TestHistoryOrdersInvalidStatus(t *testing.T) {
	dbPath := seedHistory(t)

	_, err := executeHistory(t, "text", "orders", "--db", dbPath, "--status", "Lost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --status")
}

func TestHistorySummary(t *testing.T) {
	dbPath := seedHistory(t)

	buf, err := executeHistory(t, "text", "summary", "--db", dbPath)
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Run 1")
	assert.Contains(t, output, "Completed: 1 (2 items)")
	assert.Contains(t, output, "timeout: 1")
	assert.Contains(t, output, "Revenue:   6.50")

	buf, err = executeHistory(t, "json", "summary", "--db", dbPath, "--all")
	require.NoError(t, err)
	var resp struct {
		Data store.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Orders)
	assert.Equal(t, 1, resp.Data.Cancelled)
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, err := executeHistory(t, "text", "runs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database")
}

func TestDash(t *testing.T) {
	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "x", dash("x"))
}
