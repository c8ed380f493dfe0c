package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/prode/internal/domain/model"
)

const syncFileMode = 0o644

// record is one line of the sync file.
type record struct {
	SyncedAt   time.Time        `json:"synced_at"`
	Prediction model.Prediction `json:"prediction"`
}

// FileSink appends every delivered revision to a newline-delimited JSON
// file. Later lines supersede earlier ones for the same email.
type FileSink struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to path. The parent directory is created
// on first delivery.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path, now: time.Now}
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Deliver(ctx context.Context, p model.Prediction) error { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(record{SyncedAt: s.now().UTC(), Prediction: p})
	if err != nil {
		return fmt.Errorf("encode sync record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create sync dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, syncFileMode)
	if err != nil {
		return fmt.Errorf("open sync file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append sync record: %w", err)
	}
	return f.Close()
}
