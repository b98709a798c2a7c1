package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/lanes/internal/metrics"
	"github.com/harun/lanes/internal/tracing"
	"github.com/harun/lanes/pkg/lanes"
	"github.com/rs/zerolog"
)

// LaneBy selects how a changed path maps to a lane name
type LaneBy string

const (
	// LaneByFile gives every file its own lane
	LaneByFile LaneBy = "file"
	// LaneByDir shares one lane between the files of a directory
	LaneByDir LaneBy = "dir"
)

// ParseLaneBy validates a lane-by mode
func ParseLaneBy(s string) (LaneBy, error) {
	switch LaneBy(s) {
	case LaneByFile, LaneByDir:
		return LaneBy(s), nil
	case "":
		return LaneByFile, nil
	default:
		return "", fmt.Errorf("invalid lane-by mode %q (want file or dir)", s)
	}
}

// WorkFactory builds the work item for a changed path
type WorkFactory func(path string, op fsnotify.Op) lanes.Work

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Dir      string
	LaneBy   LaneBy
	Debounce time.Duration
	Work     WorkFactory
	Logger   zerolog.Logger
}

// Watcher turns file system events under a directory into lane submissions.
// Events for the same path are debounced; each debounced event submits one
// work item to the lane derived from the path.
type Watcher struct {
	watcher        *fsnotify.Watcher
	sub            Submitter
	dir            string
	laneBy         LaneBy
	debounce       time.Duration
	work           WorkFactory
	logger         zerolog.Logger
	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
	watched        atomic.Int64
}

// NewWatcher creates a watcher submitting into sub
func NewWatcher(sub Submitter, config WatcherConfig) (*Watcher, error) {
	if config.Work == nil {
		return nil, fmt.Errorf("watcher requires a work factory")
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch dir: %w", err)
	}

	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if config.LaneBy == "" {
		config.LaneBy = LaneByFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:        watcher,
		sub:            sub,
		dir:            dir,
		laneBy:         config.LaneBy,
		debounce:       config.Debounce,
		work:           config.Work,
		logger:         config.Logger.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start starts watching the directory tree
func (w *Watcher) Start() error {
	if err := w.addDirectoryRecursive(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	go w.eventLoop()

	w.logger.Info().
		Str("path", w.dir).
		Str("lane_by", string(w.laneBy)).
		Msg("Watcher started")
	return nil
}

// Stop stops the watcher and cancels pending debounced events
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
		metrics.Default().WatchedDirectories.Sub(float64(w.watched.Swap(0)))
		w.logger.Info().Msg("Watcher stopped")
	})
	return closeErr
}

// LaneFor returns the lane name for a path under the watched directory
func (w *Watcher) LaneFor(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	if w.laneBy == LaneByDir {
		rel = filepath.Dir(rel)
		if rel == "." {
			rel = filepath.Base(w.dir)
		}
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if shouldIgnore(event.Name) {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectoryRecursive(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.debounceEvent(event)
}

// debounceEvent coalesces rapid events for the same path into the last one
func (w *Watcher) debounceEvent(event fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	eventCopy := event
	w.debounceTimers[event.Name] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, eventCopy.Name)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.submit(eventCopy)
		}
	})
}

func (w *Watcher) submit(event fsnotify.Event) {
	lane := w.LaneFor(event.Name)
	ctx := tracing.NewRequestContext(context.Background())

	taskID, err := w.sub.SubmitWithContext(ctx, lane, w.work(event.Name, event.Op), nil)
	metrics.Default().RecordWatchEvent(err == nil)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Str("path", event.Name).
			Str("lane", lane).
			Msg("File event not submitted")
		return
	}

	w.logger.Debug().
		Str("path", event.Name).
		Str("op", event.Op.String()).
		Str("lane", lane).
		Str("task_id", taskID).
		Msg("File event submitted")
}

func (w *Watcher) addDirectoryRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if walkPath != path && shouldIgnore(walkPath) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(walkPath); err != nil {
			return fmt.Errorf("failed to watch %s: %w", walkPath, err)
		}
		w.watched.Add(1)
		metrics.Default().WatchedDirectories.Inc()
		return nil
	})
}

// shouldIgnore skips hidden entries and editor scratch files
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}

// EnvWork runs the watch command with LANES_PATH and LANES_OP set for the event
func EnvWork(command []string, timeout string, logger zerolog.Logger) WorkFactory {
	return func(path string, op fsnotify.Op) lanes.Work {
		job := Job{
			Name:    "watch",
			Command: command,
			Timeout: timeout,
			Env: map[string]string{
				"LANES_PATH": path,
				"LANES_OP":   op.String(),
			},
		}
		return CommandWork(job, logger)
	}
}
