// Package watch implements the debounced, coalescing filesystem event
// pipeline (spec.md §4.I): an insertion-ordered EventRegistry that applies
// the coalescing table, and an FsWatcher that drives it from fsnotify
// events and flushes batches to a handler after a quiet period. Grounded on
// original_source/src/{events.rs,watch.rs} for the coalescing/debounce
// semantics and on agent-deck's internal/session/event_watcher.go for the
// direct fsnotify usage.
package watch

// EventKind tags an Event's variant.
type EventKind int

const (
	Write EventKind = iota
	Remove
	Move
)

// Event is the coalesced filesystem event delivered to a Handler
// (spec.md §3/§4.I FsEvent).
type Event struct {
	Kind EventKind
	Src  string // Write, Remove
	From string // Move
	To   string // Move
}

func (e Event) String() string {
	switch e.Kind {
	case Write:
		return "Write(" + e.Src + ")"
	case Remove:
		return "Remove(" + e.Src + ")"
	case Move:
		return "Move(" + e.From + "->" + e.To + ")"
	default:
		return "Unknown"
	}
}
