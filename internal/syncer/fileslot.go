package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/example/event-checkin/internal/atomicfile"
)

// SlotFileName is the well-known slot shared by sessions using one data dir.
const SlotFileName = "sync-slot.json"

// FileSlot is a Slot stored in a file that is replaced atomically on every
// write.
type FileSlot struct {
	dir    string
	path   string
	logger *slog.Logger
}

// NewFileSlot returns the slot under dir, creating dir when needed.
func NewFileSlot(dir string, logger *slog.Logger) (*FileSlot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(dir, SlotFileName)
	return &FileSlot{dir: dir, path: path, logger: logger.With("component", "file_slot", "path", path)}, nil
}

// Path returns the slot file path.
func (s *FileSlot) Path() string { return s.path }

// Read implements Slot. A missing file reads as empty.
func (s *FileSlot) Read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}
	return data, nil
}

// Write implements Slot.
func (s *FileSlot) Write(_ context.Context, payload []byte) error {
	if err := atomicfile.Write(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}

// Notify implements Notifier. The directory is watched because atomic
// replacement swaps the file itself.
func (s *FileSlot) Notify(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
