package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/treasury-vault/interfaces"
)

// DefaultFileName is the name of the journal file inside the vault directory.
const DefaultFileName = "access.log"

// FileSink appends events as JSON lines to a file only the owner can read.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates the parent directory if needed. The file is created on first write.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Write appends one line and syncs it to disk.
func (s *FileSink) Write(ctx context.Context, event interfaces.AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append to journal: %w", err)
	}
	return f.Sync()
}

// LastID returns the highest log id in the file.
func (s *FileSink) LastID(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.scan(func(e interfaces.AuditEvent) bool {
		if e.LogID > last {
			last = e.LogID
		}
		return true
	})
	return last, err
}

// Events reads the file and returns matching events in file order.
func (s *FileSink) Events(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEvent, error) {
	var out []interfaces.AuditEvent
	err := s.scan(func(e interfaces.AuditEvent) bool {
		if filter.Matches(e) {
			out = append(out, e)
		}
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}

// scan visits every well-formed line. Lines that fail to decode, such as a torn final
// write, are skipped.
func (s *FileSink) scan(fn func(interfaces.AuditEvent) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e interfaces.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return scanner.Err()
}
