// Package oplog implements the append-only operation audit log (component
// C6): every mutating engine call is recorded here before it is considered
// complete, regardless of whether it ultimately succeeded.
package oplog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// Log is an append-only, newline-delimited JSON file. It is never truncated
// or rewritten by the engine; rotation (see RotateHook) is an operator
// action, not something the service triggers on its own.
type Log struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open opens (creating if necessary) the log file at path for appending.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errkind.Wrap(err, errkind.DataStore, "create operation log directory").
				WithComponent("oplog.Log").WithOperation("Open")
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "open operation log").
			WithComponent("oplog.Log").WithOperation("Open")
	}
	return &Log{file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record and fsyncs before returning, so a crash
// immediately after Append never loses the record.
func (l *Log) Append(rec model.OperationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal operation record").
			WithComponent("oplog.Log").WithOperation("Append")
	}
	if _, err := l.w.Write(line); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "write operation record").
			WithComponent("oplog.Log").WithOperation("Append")
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "write operation record newline").
			WithComponent("oplog.Log").WithOperation("Append")
	}
	if err := l.w.Flush(); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "flush operation log").
			WithComponent("oplog.Log").WithOperation("Append")
	}
	if err := l.file.Sync(); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "sync operation log").
			WithComponent("oplog.Log").WithOperation("Append")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
