package team

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// expertiseKey identifies one (bot, domain) counter pair.
func expertiseKey(botID, domain string) string { return botID + "/" + domain }

type expertiseCounter struct {
	Successes int `json:"successes"`
	Total     int `json:"total"`
}

// Expertise tracks per-(bot, domain) success rates. Counters are
// durable (JSON file, atomic rewrite); the score cache is in-memory
// and invalidated on every update.
type Expertise struct {
	mu       sync.Mutex
	path     string // empty = memory only
	counters map[string]expertiseCounter
	cache    map[string]float64
}

// NewExpertise loads the tracker from path. An empty path keeps the
// tracker in memory only.
func NewExpertise(path string) (*Expertise, error) {
	e := &Expertise{
		path:     path,
		counters: make(map[string]expertiseCounter),
		cache:    make(map[string]float64),
	}
	if path == "" {
		return e, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, fmt.Errorf("read expertise store: %w", err)
	}
	if err := json.Unmarshal(data, &e.counters); err != nil {
		return nil, fmt.Errorf("parse expertise store: %w", err)
	}
	return e, nil
}

// RecordInteraction records one success or failure for (botID, domain).
func (e *Expertise) RecordInteraction(botID, domain string, successful bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := expertiseKey(botID, domain)
	c := e.counters[key]
	c.Total++
	if successful {
		c.Successes++
	}
	e.counters[key] = c
	delete(e.cache, key)

	if err := e.persistLocked(); err != nil {
		slog.Warn("expertise persist failed", "error", err)
	}
}

// ExpertiseScore returns the success rate for (botID, domain) in [0,1].
// Unknown pairs score a neutral 0.5.
func (e *Expertise) ExpertiseScore(botID, domain string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(botID, domain)
}

func (e *Expertise) scoreLocked(botID, domain string) float64 {
	key := expertiseKey(botID, domain)
	if s, ok := e.cache[key]; ok {
		return s
	}
	c, ok := e.counters[key]
	if !ok || c.Total == 0 {
		return 0.5
	}
	s := float64(c.Successes) / float64(c.Total)
	e.cache[key] = s
	return s
}

// BestBotForDomain returns the candidate with the highest score for the
// domain. Ties keep the earlier candidate. Empty candidates returns "".
func (e *Expertise) BestBotForDomain(domain string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	best := candidates[0]
	bestScore := e.scoreLocked(best, domain)
	for _, id := range candidates[1:] {
		if s := e.scoreLocked(id, domain); s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

// Report returns every tracked domain score for one bot.
func (e *Expertise) Report(botID string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]float64)
	prefix := botID + "/"
	for key := range e.counters {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			domain := key[len(prefix):]
			out[domain] = e.scoreLocked(botID, domain)
		}
	}
	return out
}

func (e *Expertise) persistLocked() error {
	if e.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(e.counters, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.path)
}
