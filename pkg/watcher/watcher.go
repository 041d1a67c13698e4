package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	// ChangeTypeWritten covers writes, creates and renames onto the file.
	ChangeTypeWritten ChangeType = iota
	// ChangeTypeRemoved means the file is gone, at least for now.
	ChangeTypeRemoved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeTypeWritten:
		return "written"
	case ChangeTypeRemoved:
		return "removed"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Path      string
	Count     int // raw fsnotify events folded into this one
	Timestamp time.Time
}

// FileWatcher watches one workflow file for changes.
//
// The parent directory is watched rather than the file itself, because
// editors usually save by writing a temporary file and renaming it over the
// original, which drops a watch placed on the file.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan ChangeEvent
	logger  *slog.Logger
}

// NewFileWatcher creates a watcher for the file at path.
func NewFileWatcher(path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		path:    abs,
		events:  make(chan ChangeEvent, 100),
		logger:  logging.New("watcher"),
	}, nil
}

// Start begins watching. Events stop and the channel closes when ctx ends.
func (fw *FileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fw.logger.Info("started watching workflow", "path", fw.path)

	go fw.processEvents(ctx)
	return nil
}

// processEvents turns fsnotify events for the watched file into ChangeEvents.
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			change, relevant := classify(event.Op)
			if !relevant {
				continue
			}
			fw.logger.Debug("workflow file changed", "op", event.Op.String(), "type", change)
			if !fw.send(ctx, change) {
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				fw.logger.Warn("watcher overflow, assuming workflow changed")
				if !fw.send(ctx, ChangeTypeWritten) {
					return
				}
				continue
			}
			fw.logger.Error("watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) send(ctx context.Context, change ChangeType) bool {
	select {
	case fw.events <- ChangeEvent{Type: change, Path: fw.path, Count: 1, Timestamp: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}

func classify(op fsnotify.Op) (ChangeType, bool) {
	switch {
	case op.Has(fsnotify.Write), op.Has(fsnotify.Create):
		return ChangeTypeWritten, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ChangeTypeRemoved, true
	}
	return 0, false
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Path returns the absolute path being watched.
func (fw *FileWatcher) Path() string {
	return fw.path
}
