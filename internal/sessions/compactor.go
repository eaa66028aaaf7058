package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"botfleet/internal/providers"
)

// CompactionMode selects the history-shrinking strategy.
type CompactionMode string

const (
	ModeSummary    CompactionMode = "summary"
	ModeTokenLimit CompactionMode = "token-limit"
	ModeOff        CompactionMode = "off"
)

// CompactorConfig tunes when and how history is compacted.
type CompactorConfig struct {
	Enabled            bool           `json:"enabled"`
	Mode               CompactionMode `json:"mode"`
	ThresholdPercent   float64        `json:"threshold_percent"`
	TargetTokens       int            `json:"target_tokens"`
	MinMessages        int            `json:"min_messages"`
	PreserveRecent     int            `json:"preserve_recent"`
	PreserveToolChains bool           `json:"preserve_tool_chains"`
	SummaryChunkSize   int            `json:"summary_chunk_size"`
	EnableMemoryFlush  bool           `json:"enable_memory_flush"`
}

// DefaultCompactorConfig returns the standard compaction settings.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		Enabled:            true,
		Mode:               ModeSummary,
		ThresholdPercent:   0.80,
		TargetTokens:       4000,
		MinMessages:        10,
		PreserveRecent:     10,
		PreserveToolChains: true,
		SummaryChunkSize:   20,
		EnableMemoryFlush:  false,
	}
}

// CompactionResult reports what a compaction pass did.
type CompactionResult struct {
	Messages        []providers.Message `json:"messages"`
	OriginalCount   int                 `json:"original_count"`
	CompactedCount  int                 `json:"compacted_count"`
	TokensBefore    int                 `json:"tokens_before"`
	TokensAfter     int                 `json:"tokens_after"`
	CompactionRatio float64             `json:"compaction_ratio"`
	Mode            CompactionMode      `json:"mode"`
}

// Summarizer condenses a message chunk into prose. Usually backed by an
// LLM provider; tests substitute a deterministic one.
type Summarizer func(ctx context.Context, msgs []providers.Message) (string, error)

// MemoryFlush runs before compaction so durable facts can be written
// out of the history about to be discarded. Errors are logged, never
// fatal.
type MemoryFlush func(ctx context.Context, msgs []providers.Message) error

// Compactor shrinks session histories that exceed the token budget.
type Compactor struct {
	cfg       CompactorConfig
	summarize Summarizer
	flush     MemoryFlush
}

// NewCompactor builds a compactor. summarize may be nil when the mode
// never needs it; flush may be nil to disable the pre-compaction hook.
func NewCompactor(cfg CompactorConfig, summarize Summarizer, flush MemoryFlush) *Compactor {
	return &Compactor{cfg: cfg, summarize: summarize, flush: flush}
}

// ShouldCompact reports whether the history has crossed the trigger
// threshold for the context window.
func (c *Compactor) ShouldCompact(msgs []providers.Message, contextWindow int) bool {
	if !c.cfg.Enabled || c.cfg.Mode == ModeOff {
		return false
	}
	if len(msgs) <= c.cfg.MinMessages {
		return false
	}
	return float64(CountMessageTokens(msgs)) > c.cfg.ThresholdPercent*float64(contextWindow)
}

// Compact applies the configured mode. The input slice is never
// mutated; the result carries the replacement history.
func (c *Compactor) Compact(ctx context.Context, msgs []providers.Message) (*CompactionResult, error) {
	res := &CompactionResult{
		OriginalCount: len(msgs),
		TokensBefore:  CountMessageTokens(msgs),
		Mode:          c.cfg.Mode,
	}

	if c.cfg.EnableMemoryFlush && c.flush != nil {
		if err := c.flush(ctx, msgs); err != nil {
			slog.Warn("memory flush failed, continuing compaction", "error", err)
		}
	}

	var out []providers.Message
	var err error
	switch c.cfg.Mode {
	case ModeSummary:
		out, err = c.compactSummary(ctx, msgs)
	case ModeTokenLimit:
		out = c.compactTokenLimit(msgs)
	default:
		out = msgs
	}
	if err != nil {
		return nil, err
	}

	res.Messages = out
	res.CompactedCount = len(out)
	res.TokensAfter = CountMessageTokens(out)
	if res.TokensBefore > 0 {
		res.CompactionRatio = float64(res.TokensAfter) / float64(res.TokensBefore)
	}
	slog.Info("session compacted", "mode", c.cfg.Mode,
		"messages", fmt.Sprintf("%d->%d", res.OriginalCount, res.CompactedCount),
		"tokens", fmt.Sprintf("%d->%d", res.TokensBefore, res.TokensAfter))
	return res, nil
}

// compactSummary condenses everything but the most recent messages into
// chunked synthetic system messages, then keeps the tail verbatim.
func (c *Compactor) compactSummary(ctx context.Context, msgs []providers.Message) ([]providers.Message, error) {
	keep := c.cfg.PreserveRecent
	if keep >= len(msgs) {
		return msgs, nil
	}
	cut := len(msgs) - keep
	if c.cfg.PreserveToolChains {
		cut = safeBoundary(msgs, cut)
	}
	if cut <= 0 {
		return msgs, nil
	}
	old, recent := msgs[:cut], msgs[cut:]

	chunk := c.cfg.SummaryChunkSize
	if chunk <= 0 {
		chunk = len(old)
	}
	var out []providers.Message
	for start := 0; start < len(old); start += chunk {
		end := start + chunk
		if end > len(old) {
			end = len(old)
		}
		summary, err := c.summarizeChunk(ctx, old[start:end])
		if err != nil {
			return nil, fmt.Errorf("summarize chunk %d: %w", start/chunk, err)
		}
		out = append(out, providers.Message{
			Role:    "system",
			Content: "[Earlier conversation summary]: " + summary,
		})
	}
	return append(out, recent...), nil
}

func (c *Compactor) summarizeChunk(ctx context.Context, msgs []providers.Message) (string, error) {
	if c.summarize != nil {
		return c.summarize(ctx, msgs)
	}
	// No summarizer wired: fall back to a terse transcript digest.
	var b strings.Builder
	for _, m := range msgs {
		line := m.Content
		if len(line) > 80 {
			line = line[:80] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, line)
	}
	return strings.TrimSpace(b.String()), nil
}

// compactTokenLimit keeps the largest recent tail that fits the target
// token budget, cutting only at safe boundaries. At least MinMessages
// are kept even when the minimum tail overshoots the budget.
func (c *Compactor) compactTokenLimit(msgs []providers.Message) []providers.Message {
	if len(msgs) <= c.cfg.MinMessages {
		return msgs
	}
	maxCut := safeBoundary(msgs, len(msgs)-c.cfg.MinMessages)
	cut := maxCut
	for cut > 0 {
		next := safeBoundary(msgs, cut-1)
		if CountMessageTokens(msgs[next:]) > c.cfg.TargetTokens {
			break
		}
		cut = next
	}
	if CountMessageTokens(msgs[cut:]) > c.cfg.TargetTokens {
		cut = maxCut
	}
	return msgs[cut:]
}

// safeBoundary returns the largest index <= want where the history can
// be cut without separating a tool call from its result. Cutting at i
// keeps msgs[i:]; that is safe when no message at or after i is a tool
// result whose call sits before i.
func safeBoundary(msgs []providers.Message, want int) int {
	if want < 0 {
		want = 0
	}
	if want > len(msgs) {
		want = len(msgs)
	}
	for i := want; i > 0; i-- {
		if isSafeCut(msgs, i) {
			return i
		}
	}
	return 0
}

func isSafeCut(msgs []providers.Message, i int) bool {
	// Collect tool-call ids issued before the cut.
	pending := make(map[string]bool)
	for _, m := range msgs[:i] {
		for _, tc := range m.ToolCalls {
			pending[tc.ID] = true
		}
	}
	if len(pending) == 0 {
		return true
	}
	// A kept tool result whose call was dropped breaks the chain.
	for _, m := range msgs[i:] {
		if m.Role == "tool" && pending[m.ToolCallID] {
			return false
		}
	}
	return true
}
