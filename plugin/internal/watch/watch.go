// Package watch calls a function after files changed. Changes are picked up
// from file system notifications where available, with polling as a
// fallback.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

// stamp identifies a version of a file. The content hash is only computed
// when the modification time or size changed.
type stamp struct {
	exists  bool
	modTime time.Time
	size    int64
	sum     uint64
}

// Watcher watches a set of files. Changes are debounced: the change function is
// called once the files stopped changing for the debounce duration. A file
// that is touched without its contents changing does not count as a change.
type Watcher struct {
	paths    []string
	watched  map[string]struct{}
	interval time.Duration
	debounce time.Duration
	log      *slog.Logger
	change   func(ctx context.Context)

	stamps  map[string]stamp
	pending bool
	last    time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the polling interval. Files are polled at this interval
// even if notifications are available.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long files must be unchanged before change is called.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger of the Watcher.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// New returns a Watcher calling change after any of paths changed. The
// current state of the files is recorded immediately.
func New(change func(ctx context.Context), paths []string, opts ...Option) *Watcher {
	w := &Watcher{
		paths:    paths,
		interval: 2 * time.Second,
		debounce: 500 * time.Millisecond,
		log:      slog.Default(),
		change:   change,
		watched:  make(map[string]struct{}, len(paths)),
		stamps:   make(map[string]stamp, len(paths)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("subsystem", "watch")
	for _, p := range paths {
		w.watched[filepath.Clean(p)] = struct{}{}
		w.stamps[p], _ = w.stat(p, stamp{})
	}
	return w
}

// Run watches the files until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	events, errs, closeNotify := w.notify()
	defer closeNotify()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.poll(ctx, now)
		case now := <-settle.C:
			w.poll(ctx, now)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if _, watched := w.watched[filepath.Clean(ev.Name)]; !watched || ev.Op == fsnotify.Chmod {
				continue
			}
			w.poll(ctx, time.Now())
			settle.Reset(w.debounce)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("File notification error.", "error", err)
		}
	}
}

// notify subscribes to notifications for the directories holding the
// watched files. Directories are watched rather than files so that files
// replaced by editors keep being watched. Nil channels are returned if
// notifications are unavailable.
func (w *Watcher) notify() (<-chan fsnotify.Event, <-chan error, func()) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Debug("File notifications unavailable, polling only.", "error", err)
		return nil, nil, func() {}
	}
	dirs := make(map[string]struct{}, len(w.paths))
	for p := range w.watched {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.log.Debug("Could not watch directory, polling it.", "dir", dir, "error", err)
		}
	}
	return fsw.Events, fsw.Errors, func() { _ = fsw.Close() }
}

// poll checks every file once and calls change if a debounced change is
// due. It reports if change was called.
func (w *Watcher) poll(ctx context.Context, now time.Time) bool {
	for _, p := range w.paths {
		next, changed := w.stat(p, w.stamps[p])
		w.stamps[p] = next
		if changed {
			w.log.Debug("File changed.", "path", p, "exists", next.exists)
			w.pending, w.last = true, now
		}
	}
	if !w.pending || now.Sub(w.last) < w.debounce {
		return false
	}
	w.pending = false
	w.change(ctx)
	return true
}

// stat returns the current stamp of the file at path and whether it differs
// from prev.
func (w *Watcher) stat(path string, prev stamp) (stamp, bool) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return stamp{}, prev.exists
	} else if err != nil {
		w.log.Warn("Could not stat watched file.", "path", path, "error", err)
		return prev, false
	}
	next := stamp{exists: true, modTime: info.ModTime(), size: info.Size(), sum: prev.sum}
	if prev.exists && next.modTime.Equal(prev.modTime) && next.size == prev.size {
		return next, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("Could not read watched file.", "path", path, "error", err)
		return prev, false
	}
	next.sum = xxhash.Sum64(data)
	return next, !prev.exists || next.sum != prev.sum
}
