package manager

import (
	"context"

	"github.com/bpbradley/locket/pkg/provider"
	"github.com/bpbradley/locket/pkg/watch"
)

// WatchAdapter adapts a Manager plus a fixed Provider into a watch.Handler,
// so inject mode's watch loop and the volume plugin's per-volume watcher
// (spec.md §4.H, §4.K) can drive the same incremental-handler logic that
// HandleFsEvent implements, without Manager itself needing to hold a
// Provider reference (every other entry point passes one explicitly,
// mirroring original_source/src/secrets/manager.rs's per-call provider
// argument).
type WatchAdapter struct {
	mgr   *Manager
	prov  provider.Provider
	roots []string
}

// NewWatchAdapter builds a watch.Handler over mgr, fetching through prov
// and watching roots (typically registry.WatchRoots()).
func NewWatchAdapter(mgr *Manager, prov provider.Provider, roots []string) *WatchAdapter {
	return &WatchAdapter{mgr: mgr, prov: prov, roots: roots}
}

// Paths implements watch.Handler.
func (a *WatchAdapter) Paths() []string { return a.roots }

// Handle implements watch.Handler, dispatching each coalesced event to the
// manager in order and stopping at the first error.
func (a *WatchAdapter) Handle(ctx context.Context, events []watch.Event) error {
	for _, ev := range events {
		if err := a.mgr.HandleFsEvent(ctx, a.prov, toManagerEvent(ev)); err != nil {
			return err
		}
	}
	return nil
}

func toManagerEvent(ev watch.Event) Event {
	switch ev.Kind {
	case watch.Write:
		return Event{Kind: EventWrite, Src: ev.Src}
	case watch.Remove:
		return Event{Kind: EventRemove, Src: ev.Src}
	case watch.Move:
		return Event{Kind: EventMove, From: ev.From, To: ev.To}
	default:
		return Event{}
	}
}
