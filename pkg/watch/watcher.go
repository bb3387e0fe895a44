package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/errs"
)

// Handler reacts to a debounced, coalesced batch of filesystem events
// (spec.md §4.H/§4.I). Paths returns every root the watcher must observe;
// Handle is invoked once per flushed batch and is never called concurrently
// with itself.
type Handler interface {
	Paths() []string
	Handle(ctx context.Context, events []Event) error
}

// ExitNotifier is implemented by handlers with a natural completion signal
// (spec.md §4.I: "If the handler exposes an exit_notify future, the loop
// also terminates when that future resolves").
type ExitNotifier interface {
	ExitNotify() <-chan struct{}
}

// DefaultDebounce is the quiet window held before a batch is flushed
// (spec.md §4.I, §5).
const DefaultDebounce = 500 * time.Millisecond

// FsWatcher drives a Handler from raw OS filesystem events: it resolves the
// handler's watched paths, maps OS events to Event per spec.md §4.I's
// table, coalesces them through an EventRegistry, and flushes a batch after
// a quiet period. Grounded on original_source/src/watch.rs, adapted from
// the Rust `notify` crate's combined-rename events (which the original
// could synthesize via an inotify rename cookie) to fsnotify's uncorrelated
// Rename/Create pair — this watcher takes spec.md §4.I's own fallback rows
// ("Modify(Name, From) -> Remove", "Modify(Name, To) -> Write") as the
// steady-state mapping rather than attempting cookie-based pairing that the
// fsnotify library does not expose.
type FsWatcher struct {
	handler  Handler
	debounce time.Duration
	log      *zap.Logger
	registry *EventRegistry
}

// Option configures an FsWatcher at construction.
type Option func(*FsWatcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *FsWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger attaches a logger; the default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(w *FsWatcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New builds an FsWatcher over handler.
func New(handler Handler, opts ...Option) *FsWatcher {
	w := &FsWatcher{
		handler:  handler,
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
		registry: NewEventRegistry(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run blocks, watching the handler's paths until ctx is cancelled, the
// handler's ExitNotify channel resolves, or an unrecoverable WatchError
// occurs. Each flushed batch is delivered to handler.Handle sequentially;
// a new batch does not begin accumulating until the prior Handle call
// returns (spec.md §5: "within one FsWatcher instance, handle is invoked
// sequentially").
func (w *FsWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return &errs.WatchError{Kind: errs.WatchNotify, Err: err}
	}
	defer fsw.Close()

	for _, p := range w.handler.Paths() {
		info, statErr := os.Stat(p)
		if statErr != nil {
			return &errs.WatchError{Kind: errs.WatchSourceMissing, Path: p, Err: statErr}
		}
		if info.IsDir() {
			if err := addRecursive(fsw, p); err != nil {
				return &errs.WatchError{Kind: errs.WatchIo, Path: p, Err: err}
			}
		} else if err := fsw.Add(p); err != nil {
			return &errs.WatchError{Kind: errs.WatchIo, Path: p, Err: err}
		}
		w.log.Info("watching for changes", zap.String("path", p))
	}

	var exitCh <-chan struct{}
	if en, ok := w.handler.(ExitNotifier); ok {
		exitCh = en.ExitNotify()
	}

	for {
		w.log.Debug("waiting for fs event")

		select {
		case <-ctx.Done():
			return nil
		case <-exitCh:
			w.log.Info("handler exit signal received")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return &errs.WatchError{Kind: errs.WatchDisconnected}
			}
			if !w.ingest(fsw, ev) {
				continue
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return &errs.WatchError{Kind: errs.WatchDisconnected}
			}
			w.log.Warn("notify internal error", zap.Error(err))
			continue
		}

		brk, err := w.debounceLoop(ctx, fsw, exitCh)
		if err != nil {
			return err
		}
		if !brk {
			w.flush(ctx)
		} else {
			w.log.Info("exiting watcher loop")
			return nil
		}
	}
}

// debounceLoop holds accumulated events until debounce has elapsed without
// a new relevant event, resetting the deadline on every ingested event.
func (w *FsWatcher) debounceLoop(ctx context.Context, fsw *fsnotify.Watcher, exitCh <-chan struct{}) (brk bool, err error) {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return true, nil
		case <-exitCh:
			w.log.Info("handler exit signal received")
			return true, nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return false, &errs.WatchError{Kind: errs.WatchDisconnected}
			}
			if w.ingest(fsw, ev) {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}
		case e, ok := <-fsw.Errors:
			if !ok {
				return false, &errs.WatchError{Kind: errs.WatchDisconnected}
			}
			w.log.Warn("notify internal error", zap.Error(e))
		}
	}
}

// ingest maps a raw fsnotify event to an Event and registers it, returning
// whether it was relevant. A Create of a new directory is added to the
// watch set so files created beneath it are observed too.
func (w *FsWatcher) ingest(fsw *fsnotify.Watcher, ev fsnotify.Event) bool {
	mapped, ok := mapFsEvent(ev)
	if !ok {
		return false
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, ev.Name); err != nil {
				w.log.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
	w.registry.Register(mapped)
	return true
}

func (w *FsWatcher) flush(ctx context.Context) {
	events := w.registry.Drain()
	if len(events) == 0 {
		return
	}
	w.log.Debug("processing batched fs events", zap.Int("count", len(events)))
	if err := w.handler.Handle(ctx, events); err != nil {
		w.log.Warn("failed to handle fs events", zap.Error(err))
	}
}

// mapFsEvent maps one raw fsnotify event to an Event per spec.md §4.I's
// table. fsnotify reports a rename as two independent events (Rename on
// the old path, Create on the new path) rather than one correlated move,
// so this mapping takes the table's explicit From/To fallback rows as the
// steady state: Remove(old) and Write(new).
func mapFsEvent(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Op&fsnotify.Remove != 0:
		return Event{Kind: Remove, Src: ev.Name}, true
	case ev.Op&fsnotify.Rename != 0:
		return Event{Kind: Remove, Src: ev.Name}, true
	case ev.Op&fsnotify.Create != 0, ev.Op&fsnotify.Write != 0:
		return Event{Kind: Write, Src: ev.Name}, true
	default:
		return Event{}, false
	}
}

// addRecursive adds a watch on root and every directory beneath it.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
