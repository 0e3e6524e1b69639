// Package stats fans observability events out to a set of Analyzers keyed
// by user: session handshakes, relay state transitions, and per-user chunk
// sizes. There are no HTTP routes, cookies, or response bodies here, only
// connections and streams.
package stats

// Event is the normalized unit every Analyzer consumes.
type Event struct {
	Username     string
	SessionID    string
	HandshakeOK  bool
	HandshakeDur int64 // nanoseconds; zero if this event isn't a handshake
	ChunkBytes   int   // nonzero for a forwarded-chunk event
	Transition   *Transition
}

// Analyzer is the generic interface for all stats modules.
type Analyzer interface {
	OnEvent(ev *Event)
}

// Registry fans one Event out to every registered Analyzer.
type Registry struct {
	analyzers []Analyzer
}

// NewRegistry builds a Registry over the given analyzers.
func NewRegistry(analyzers ...Analyzer) *Registry {
	return &Registry{analyzers: analyzers}
}

// OnEvent dispatches ev to every analyzer in order.
func (r *Registry) OnEvent(ev *Event) {
	if r == nil {
		return
	}
	for _, a := range r.analyzers {
		a.OnEvent(ev)
	}
}

// NewDefaultRegistry wires up the standard analyzer set the Proxy feeds from
// its relay.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewLatencyAnalyzer(),
		NewRetryAnalyzer(),
		NewSizeAnalyzer(),
		NewTransitionAnalyzer(),
	)
}

// Latency returns the LatencyAnalyzer registered in this registry, if any.
func (r *Registry) Latency() *LatencyAnalyzer {
	for _, a := range r.analyzers {
		if la, ok := a.(*LatencyAnalyzer); ok {
			return la
		}
	}
	return nil
}

// Sizes returns the SizeAnalyzer registered in this registry, if any.
func (r *Registry) Sizes() *SizeAnalyzer {
	for _, a := range r.analyzers {
		if sa, ok := a.(*SizeAnalyzer); ok {
			return sa
		}
	}
	return nil
}
