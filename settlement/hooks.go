package settlement

import (
	"sync"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// HookEvent represents a named settlement lifecycle event.
type HookEvent string

const (
	HookInitiated     HookEvent = "settlement:initiated"
	HookInFlight      HookEvent = "settlement:in_flight"
	HookSettled       HookEvent = "settlement:settled"
	HookFailed        HookEvent = "settlement:failed"
	HookStatusChanged HookEvent = "settlement:status_changed"
)

// HookRegistry manages lifecycle event handlers for settlement state changes.
// Handlers are stored per event and execute sequentially in registration order.
// The registry is safe for concurrent registration and triggering.
type HookRegistry struct {
	handlers map[HookEvent][]func(*liquidstake.Settlement)
	mu       sync.RWMutex
}

// NewHookRegistry creates a new lifecycle hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		handlers: make(map[HookEvent][]func(*liquidstake.Settlement)),
	}
}

// On registers a handler for event. Handlers should be quick and must not
// call back into the tracker that triggered them.
func (r *HookRegistry) On(event HookEvent, handler func(*liquidstake.Settlement)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = append(r.handlers[event], handler)
}

// Trigger executes all handlers registered for event with the given settlement.
// If a handler panics, the panic propagates and later handlers do not run.
func (r *HookRegistry) Trigger(event HookEvent, s *liquidstake.Settlement) {
	r.mu.RLock()
	handlers := r.handlers[event]
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(s)
	}
}

func hookFor(status liquidstake.SettlementStatus) HookEvent {
	switch status {
	case liquidstake.StatusInitiated:
		return HookInitiated
	case liquidstake.StatusInFlight:
		return HookInFlight
	case liquidstake.StatusSettled:
		return HookSettled
	case liquidstake.StatusFailed:
		return HookFailed
	default:
		return ""
	}
}
