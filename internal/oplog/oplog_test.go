package oplog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNullDestinations(t *testing.T) {
	for _, dest := range []string{"", "null", "none"} {
		l, err := New(dest)
		require.NoError(t, err)
		assert.Nil(t, l)

		// nil logger is safe to use
		l.Emit(Event{Op: "search"})
		assert.Zero(t, l.Dropped())
		assert.NoError(t, l.Close())
	}
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := New(path)
	require.NoError(t, err)

	l.Emit(Event{Op: "search", Tenant: "acme", Collection: "docs", LatencyMS: 12.34, Status: "ok", K: 3, Hits: 2})
	l.Emit(Event{Op: "ingest", Tenant: "acme", Collection: "docs", Status: "error", ErrorCode: "too_large"})
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "search", lines[0].Op)
	assert.Equal(t, 2, lines[0].Hits)
	assert.NotEmpty(t, lines[0].TS)
	assert.True(t, strings.HasSuffix(lines[0].TS, "Z"))

	assert.Equal(t, "error", lines[1].Status)
	assert.Equal(t, "too_large", lines[1].ErrorCode)
	// conditional fields stay off the line when unset
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "new_name")
}

func TestOversizeLineDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := New(path)
	require.NoError(t, err)

	l.Emit(Event{Op: "ingest", DocID: strings.Repeat("x", MaxLineBytes)})
	require.NoError(t, l.Close())

	assert.Equal(t, uint64(1), l.Dropped())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestEmitNeverBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := New(path)
	require.NoError(t, err)
	defer l.Close()

	// Far more events than the buffer holds; Emit must return regardless.
	for i := 0; i < 100_000; i++ {
		l.Emit(Event{Op: "search", Tenant: "t", Status: "ok"})
	}
}
