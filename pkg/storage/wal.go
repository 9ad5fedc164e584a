package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// FileWAL appends every announcement to a file, one JSON object per line.
type FileWAL struct {
	mu     sync.Mutex
	f      *os.File
	logger *zap.SugaredLogger
}

func NewFileWAL(path string, logger *zap.SugaredLogger) (*FileWAL, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, logger: logger}, nil
}

func (w *FileWAL) Announce(e orderbook.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		w.logger.Errorw("event_log_encode_failed", "event", e.Type, "key", e.Key(), "err", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.f, string(line)); err != nil {
		w.logger.Errorw("event_log_write_failed", "event", e.Type, "key", e.Key(), "err", err)
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ orderbook.Listener = (*FileWAL)(nil)
