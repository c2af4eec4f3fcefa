// Copyright 2025 Casey Haldane
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch monitors a workflow definition file and signals when it
// should be re-run. Changes are debounced so a burst of editor saves
// produces a single signal, and re-runs can be rate limited.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	internallog "github.com/haldane/stepflow/internal/log"
)

// DefaultDebounce is the quiet window after the last write before a
// re-run fires.
const DefaultDebounce = 200 * time.Millisecond

// Event describes a definition change that warrants a re-run.
type Event struct {
	// Path is the absolute path of the watched definition.
	Path string `json:"path"`

	// Change is the kind of filesystem change (created, modified).
	Change string `json:"change"`

	// At is when the change was observed.
	At time.Time `json:"at"`
}

// Options configures a Watcher.
type Options struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// MaxRunsPerMinute limits how often re-runs fire. Zero means no limit.
	MaxRunsPerMinute int

	// Logger receives watcher lifecycle messages.
	Logger *slog.Logger
}

// Watcher observes one definition file through its parent directory.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	runs     chan Event
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a watcher for the definition file at path. The file must
// exist when the watcher is created.
func New(path string, opts Options) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Editors save atomically by renaming a temp file over the target,
	// which drops a watch placed on the file itself. Watching the parent
	// directory survives the replace.
	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = internallog.WithComponent(internallog.New(internallog.FromEnv()), "watch")
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		path:     absPath,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger.With(slog.String("path", absPath)),
		runs:     make(chan Event, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if opts.MaxRunsPerMinute > 0 {
		perSecond := float64(opts.MaxRunsPerMinute) / 60.0
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return w, nil
}

// Start begins watching for changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.Info("watching definition for changes")
}

// Runs returns the channel that delivers re-run signals. It is closed
// when the watcher stops.
func (w *Watcher) Runs() <-chan Event {
	return w.runs
}

// Stop stops the watcher and releases the filesystem watch. It is safe
// to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.runs)

	var pending *Event
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			change := classify(event.Op)
			if change == "" {
				continue
			}
			if change == "deleted" || change == "renamed" {
				// An atomic replace reports a create for the target
				// right after, so removal alone never fires a run.
				w.logger.Debug("definition removed", slog.String("change", change))
				continue
			}
			pending = &Event{Path: w.path, Change: change, At: time.Now()}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if pending == nil {
				continue
			}
			evt := *pending
			pending = nil
			if w.limiter != nil && !w.limiter.Allow() {
				w.logger.Warn("rate limit exceeded, dropping re-run",
					slog.String("change", evt.Change))
				continue
			}
			select {
			case w.runs <- evt:
				w.logger.Debug("definition changed", slog.String("change", evt.Change))
			default:
				w.logger.Warn("run channel full, dropping event",
					slog.String("change", evt.Change))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", internallog.Error(err))
		}
	}
}

func classify(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "modified"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	default:
		return ""
	}
}
