package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"botfleet/internal/bus"
)

// EgressFunc delivers an outbound envelope to one channel adapter.
type EgressFunc func(ctx context.Context, env bus.MessageEnvelope) error

// egressRegistry maps channel tags to adapters, each behind its own
// rate limiter so one noisy channel cannot starve the others.
type egressRegistry struct {
	mu       sync.Mutex
	adapters map[string]EgressFunc
	limiters map[string]*rate.Limiter
	rpm      int
}

func newEgressRegistry(rpm int) *egressRegistry {
	if rpm <= 0 {
		rpm = 60
	}
	return &egressRegistry{
		adapters: make(map[string]EgressFunc),
		limiters: make(map[string]*rate.Limiter),
		rpm:      rpm,
	}
}

// register binds a channel tag to its adapter, replacing any previous
// binding.
func (r *egressRegistry) register(channel string, fn EgressFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[channel] = fn
	if _, ok := r.limiters[channel]; !ok {
		r.limiters[channel] = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.rpm)
	}
}

// emit waits for the channel's rate limiter and hands the envelope to
// the adapter registered for its channel tag.
func (r *egressRegistry) emit(ctx context.Context, env bus.MessageEnvelope) error {
	r.mu.Lock()
	fn, ok := r.adapters[env.Channel]
	limiter := r.limiters[env.Channel]
	r.mu.Unlock()

	if !ok {
		slog.Warn("no adapter registered for channel", "channel", env.Channel)
		return fmt.Errorf("no adapter for channel %q", env.Channel)
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx, env)
}
