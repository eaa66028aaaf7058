package secrets

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// symbolicRef matches a whole-value symbolic reference like
// {{openai_key}}.
var symbolicRef = regexp.MustCompile(`^\{\{([a-z0-9_-]+)\}\}$`)

// embeddedRef finds symbolic references inside larger text.
var embeddedRef = regexp.MustCompile(`\{\{([a-z0-9_-]+)\}\}`)

// Resolver turns symbolic references into secret values and back.
// Session-scoped values take precedence over the durable store.
type Resolver struct {
	store Store

	mu       sync.Mutex
	sessions map[string]map[string]string // session id -> name -> value
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, sessions: make(map[string]map[string]string)}
}

// IsSymbolicRef reports whether value is exactly one {{name}} token.
func (r *Resolver) IsSymbolicRef(value string) bool {
	return symbolicRef.MatchString(value)
}

// SetSessionSecret scopes a secret to one session without persisting.
func (r *Resolver) SetSessionSecret(sessionID, name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]string)
	}
	r.sessions[sessionID][name] = value
}

// ClearSession drops all session-scoped secrets for the session.
func (r *Resolver) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ResolveSymbolic resolves one {{name}} value: session table first,
// then the store. Returns "" when unknown.
func (r *Resolver) ResolveSymbolic(value, sessionID string) string {
	m := symbolicRef.FindStringSubmatch(value)
	if m == nil {
		return ""
	}
	name := m[1]

	if sessionID != "" {
		r.mu.Lock()
		v, ok := r.sessions[sessionID][name]
		r.mu.Unlock()
		if ok {
			return v
		}
	}
	v, err := r.store.Get(name)
	if err != nil {
		slog.Warn("unresolved symbolic reference", "name", name)
		return ""
	}
	return v
}

// ResolveForExecution resolves symbolic values, passes literals
// through, and replaces any embedded references it can.
func (r *Resolver) ResolveForExecution(value, sessionID string) string {
	if value == "" {
		return value
	}
	if r.IsSymbolicRef(value) {
		if v := r.ResolveSymbolic(value, sessionID); v != "" {
			return v
		}
		return value
	}
	return embeddedRef.ReplaceAllStringFunc(value, func(ref string) string {
		if v := r.ResolveSymbolic(ref, sessionID); v != "" {
			return v
		}
		return ref
	})
}

// ConvertToSymbolic rewrites literal secret values found in text as
// {{name}} references. Longer values are replaced first so a secret
// that is a prefix of another cannot shadow it.
func (r *Resolver) ConvertToSymbolic(text, sessionID string) (string, error) {
	type pair struct{ name, value string }
	var known []pair

	if sessionID != "" {
		r.mu.Lock()
		for name, value := range r.sessions[sessionID] {
			known = append(known, pair{name, value})
		}
		r.mu.Unlock()
	}
	names, err := r.store.List()
	if err != nil {
		return text, fmt.Errorf("list secrets: %w", err)
	}
	for _, name := range names {
		value, err := r.store.Get(name)
		if err != nil || value == "" {
			continue
		}
		known = append(known, pair{name, value})
	}

	sort.Slice(known, func(i, j int) bool { return len(known[i].value) > len(known[j].value) })
	for _, p := range known {
		if strings.Contains(text, p.value) {
			text = strings.ReplaceAll(text, p.value, "{{"+p.name+"}}")
		}
	}
	return text, nil
}

// StoreKey persists a secret.
func (r *Resolver) StoreKey(name, value string) error { return r.store.Set(name, value) }

// GetKey reads a secret, "" when missing.
func (r *Resolver) GetKey(name string) string {
	v, err := r.store.Get(name)
	if err != nil {
		return ""
	}
	return v
}

// DeleteKey removes a secret; false when it was not there.
func (r *Resolver) DeleteKey(name string) bool { return r.store.Delete(name) == nil }

// ListKeys returns all known secret names.
func (r *Resolver) ListKeys() ([]string, error) { return r.store.List() }

// HasKey reports whether a secret exists.
func (r *Resolver) HasKey(name string) bool { return r.store.Has(name) }
