package oplog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memory-mcp/internal/memory/model"
)

func TestAppendWritesOneJSONLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operations.log")
	log, err := Open(path)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(model.OperationRecord{Timestamp: now, OpID: "op-1", Op: "create", Key: "memory_1", Success: true}))
	require.NoError(t, log.Append(model.OperationRecord{Timestamp: now, OpID: "op-2", Op: "delete", Key: "memory_1", Success: true}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestOpenAppendsToExistingFileAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operations.log")
	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(model.OperationRecord{OpID: "op-1", Op: "create", Success: true}))
	require.NoError(t, log.Close())

	log2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log2.Append(model.OperationRecord{OpID: "op-2", Op: "update", Success: true}))
	require.NoError(t, log2.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(string(raw))))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
