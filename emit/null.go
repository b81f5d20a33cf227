package emit

import "context"

// NullEmitter discards every event. Useful for tests and benchmarks where
// observability overhead should not be measured, adapted from the teacher's
// NullEmitter.
type NullEmitter struct{}

// NewNullEmitter builds a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit implements Emitter.
func (NullEmitter) Emit(Event) {}

// EmitBatch implements Emitter.
func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush implements Emitter.
func (NullEmitter) Flush(context.Context) error { return nil }
