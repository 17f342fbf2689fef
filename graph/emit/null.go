package emit

// NullEmitter discards all events. It is the engine default.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter.
func (n *NullEmitter) Emit(Event) {}
