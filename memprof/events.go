package memprof

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// EventKind discriminates allocation stream events.
type EventKind int

const (
	// EventAlloc reports a new allocation.
	EventAlloc EventKind = iota
	// EventFree reports that a previously seen allocation was released.
	EventFree
)

// AllocationEvent is one message from an external instrumentation source
// (an allocator hook, a trace reader). How events are produced is up to the
// source; the tracker only consumes them.
type AllocationEvent struct {
	Kind    EventKind
	Address uint64
	Record  AllocationRecord
}

// Consume drains an allocation event stream into the tracker until the
// channel is closed or ctx is cancelled. Producers on any number of
// goroutines can feed the channel; this loop serializes their updates.
// Frees for unknown addresses are logged and dropped, not treated as
// errors.
func (t *Tracker) Consume(ctx context.Context, events <-chan AllocationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventAlloc:
				t.AddAllocation(ev.Address, ev.Record)
			case EventFree:
				if _, ok := t.RemoveAllocation(ev.Address); !ok {
					log.WithField("address", ev.Address).Debug("free for unknown allocation, ignoring")
				}
			}
		}
	}
}
