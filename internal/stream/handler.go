package stream

import (
	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/netmetrics"
)

// StateNotifier publishes state changes. *engine.Engine implements it.
type StateNotifier interface {
	OnChange(fn func(engine.State))
}

// MetricsNotifier publishes metrics changes. *netmetrics.Tracker implements it.
type MetricsNotifier interface {
	OnUpdate(fn func(netmetrics.Snapshot))
}

// Attach forwards every state and metrics change to the server's clients.
// Either notifier may be nil.
func (s *Server) Attach(state StateNotifier, metrics MetricsNotifier) {
	if state != nil {
		state.OnChange(func(st engine.State) {
			s.Publish(MessageTypeState, st)
		})
	}
	if metrics != nil {
		metrics.OnUpdate(func(m netmetrics.Snapshot) {
			s.Publish(MessageTypeMetrics, m)
		})
	}
}
