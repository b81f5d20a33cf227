// Package emit implements C14, the Event Broadcaster: publishes ordered
// per-execution events to any number of subscribers, scoped by execution id
// through context rather than thread-locals, tolerating slow subscribers by
// bounded per-subscriber buffering with drop-oldest-on-overflow.
package emit

import "context"

// Emitter receives observability events from workflow execution. Carried
// forward from the teacher's emit.Emitter interface; implementations must be
// non-blocking and must never panic.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
