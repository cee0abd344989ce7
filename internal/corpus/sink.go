package corpus

// Sink receives the engine's corpus notifications. The filesystem store, the
// event publisher and the run recorder all implement it; tests substitute an
// in-memory one.
type Sink interface {
	// Added fires when a candidate is retained for the first time.
	Added(data []byte)
	// Removed fires when a retained candidate is no longer best for any label.
	Removed(data []byte)
	// BestChanged fires with the labels for which data is now the best
	// known reproducer. Always after Added for the same candidate.
	BestChanged(labels []string, data []byte)
	// Unstable fires once for an input whose classification flapped.
	Unstable(data []byte)
}

type multiSink struct {
	sinks []Sink
}

// FanOut composes sinks into one. Notifications are delivered in argument
// order.
func FanOut(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Added(data []byte) {
	for _, s := range m.sinks {
		s.Added(data)
	}
}

func (m *multiSink) Removed(data []byte) {
	for _, s := range m.sinks {
		s.Removed(data)
	}
}

func (m *multiSink) BestChanged(labels []string, data []byte) {
	for _, s := range m.sinks {
		s.BestChanged(labels, data)
	}
}

func (m *multiSink) Unstable(data []byte) {
	for _, s := range m.sinks {
		s.Unstable(data)
	}
}
