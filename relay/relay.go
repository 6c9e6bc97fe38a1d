// Package relay delivers queued cross-chain messages in the background.
//
// A Relay polls a network for chain pairs with pending deliveries and drains
// them in order. Registered handlers are told about every delivery, so
// callers can react to settled or rejected messages without polling the
// network themselves.
//
// Example usage:
//
//	r := relay.New(net,
//	    relay.WithInterval(200*time.Millisecond),
//	    relay.WithRateLimit(50, 10),
//	)
//
//	r.OnDelivered(func(evt relay.Event) error {
//	    log.Printf("%s %s: %v", evt.Route, evt.Kind, evt.Err)
//	    return nil
//	}, relay.WithDestination("stake-chain"))
//
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/host"
)

// Network is the part of a host network the relay drives.
type Network interface {
	Pending() []host.Route
	Deliver(ctx context.Context, from, to liquidstake.ChainID) ([]host.Delivered, error)
}

var _ Network = (*host.Network)(nil)

// Event describes one delivery made by the relay.
type Event struct {
	Route host.Route

	// MessageID and Kind are set for messages; Credit is set for value credits.
	MessageID string
	Kind      liquidstake.MessageKind
	Credit    *host.Credit

	// Err is the destination's rejection, if any.
	Err error
}

// Handler processes an Event. A returned error is logged and delivery continues.
type Handler func(Event) error

// Filter decides whether a handler sees an Event.
type Filter func(Event) bool

type handlerEntry struct {
	handler Handler
	filters []Filter
}

// Relay polls a network and delivers pending messages.
type Relay struct {
	net      Network
	handlers []handlerEntry

	interval       time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter

	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval sets how long the relay sleeps when nothing is pending. Default is 500ms.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBackoff sets the initial and maximum wait after a failed delivery pass.
// Default is 1s initial, 60s max with exponential growth.
func WithBackoff(initial, max time.Duration) Option {
	return func(r *Relay) {
		r.initialBackoff = initial
		r.maxBackoff = max
	}
}

// WithRateLimit paces route drains to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Relay) {
		if rps > 0 && burst > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New creates a relay for net.
func New(net Network, opts ...Option) *Relay {
	r := &Relay{
		net:            net,
		interval:       500 * time.Millisecond,
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnDelivered registers a handler for deliveries. Filters are ANDed together.
func (r *Relay) OnDelivered(handler Handler, filters ...Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handlerEntry{handler: handler, filters: filters})
}

// Start delivers until ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.NewHostError(errors.PROTOCOL_VIOLATION, "relay already running", nil)
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	backoff := r.initialBackoff
	attempt := 0

	for {
		select {
		case <-r.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Tick(ctx)
		wait := r.interval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			Logger().Warn("delivery pass failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			wait = backoff
			attempt++
			backoff *= 2
			if backoff > r.maxBackoff {
				backoff = r.maxBackoff
			}
		case n > 0:
			backoff = r.initialBackoff
			attempt = 0
			continue
		}

		select {
		case <-time.After(wait):
		case <-r.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends Start. It's safe to call Stop multiple times.
func (r *Relay) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	return nil
}

// Tick drains every pending route once and returns the number of deliveries.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	total := 0
	for _, route := range r.net.Pending() {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return total, err
			}
		}
		out, err := r.net.Deliver(ctx, route.From, route.To)
		for _, d := range out {
			r.process(eventFor(d))
		}
		total += len(out)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func eventFor(d host.Delivered) Event {
	evt := Event{Route: d.Route, Credit: d.Credit, Err: d.Err}
	if d.Envelope != nil {
		evt.MessageID = d.Envelope.ID
		if d.Envelope.Message != nil {
			evt.Kind = d.Envelope.Message.MessageKind()
		}
	}
	return evt
}

func (r *Relay) process(evt Event) {
	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()

	for _, entry := range handlers {
		if !matches(evt, entry.filters) {
			continue
		}
		if err := entry.handler(evt); err != nil {
			Logger().Warn("delivery handler failed",
				zap.String("route", evt.Route.String()),
				zap.String("message_id", evt.MessageID),
				zap.Error(err))
		}
	}
}

func matches(evt Event, filters []Filter) bool {
	for _, f := range filters {
		if !f(evt) {
			return false
		}
	}
	return true
}

// WithOrigin matches deliveries leaving chain.
func WithOrigin(chain liquidstake.ChainID) Filter {
	return func(evt Event) bool {
		return evt.Route.From == chain
	}
}

// WithDestination matches deliveries arriving on chain.
func WithDestination(chain liquidstake.ChainID) Filter {
	return func(evt Event) bool {
		return evt.Route.To == chain
	}
}

// WithKind matches messages of kind. Credits never match.
func WithKind(kind liquidstake.MessageKind) Filter {
	return func(evt Event) bool {
		return evt.MessageID != "" && evt.Kind == kind
	}
}

// MessagesOnly matches message deliveries and skips value credits.
func MessagesOnly() Filter {
	return func(evt Event) bool {
		return evt.MessageID != ""
	}
}

// Failed matches deliveries the destination rejected.
func Failed() Filter {
	return func(evt Event) bool {
		return evt.Err != nil
	}
}
