package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CheckFunc performs one named check. The returned string becomes the
// result message.
type CheckFunc func(ctx context.Context) (string, error)

// CheckRegistry maps check names to implementations shared across bots.
type CheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces a named check.
func (r *CheckRegistry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// Names returns the registered check names.
func (r *CheckRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for n := range r.checks {
		names = append(names, n)
	}
	return names
}

// ExecuteCheck runs a named check under maxDuration. Unknown names and
// deadline hits come back as failed and timeout results, never panics.
func (r *CheckRegistry) ExecuteCheck(ctx context.Context, name string, maxDuration time.Duration) CheckResult {
	res := CheckResult{Name: name, StartedAt: time.Now()}

	r.mu.RLock()
	fn, ok := r.checks[name]
	r.mu.RUnlock()
	if !ok {
		res.EndedAt = time.Now()
		res.Status = CheckFailed
		res.Error = fmt.Sprintf("unknown check %q", name)
		res.ErrorKind = "not_found"
		return res
	}

	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	type outcome struct {
		msg string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("check panicked: %v", p)}
			}
		}()
		msg, err := fn(ctx)
		done <- outcome{msg: msg, err: err}
	}()

	select {
	case o := <-done:
		res.EndedAt = time.Now()
		if o.err != nil {
			res.Status = CheckFailed
			res.Error = o.err.Error()
			res.ErrorKind = "upstream_failure"
			return res
		}
		res.Status = CheckSuccess
		res.Success = true
		res.Message = o.msg
		return res
	case <-ctx.Done():
		res.EndedAt = time.Now()
		res.Status = CheckTimeout
		res.Error = ctx.Err().Error()
		res.ErrorKind = "timeout"
		return res
	}
}
