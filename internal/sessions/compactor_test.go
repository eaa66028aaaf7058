package sessions

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"botfleet/internal/providers"
)

func userMsg(i int) providers.Message {
	return providers.Message{Role: "user", Content: fmt.Sprintf("message %d with some filler text", i)}
}

// toolChainHistory builds a 12-message history with an assistant tool
// call at index 7 and its result at index 8.
func toolChainHistory() []providers.Message {
	msgs := make([]providers.Message, 0, 12)
	for i := 0; i < 7; i++ {
		msgs = append(msgs, userMsg(i))
	}
	msgs = append(msgs, providers.Message{
		Role:      "assistant",
		Content:   "checking the weather",
		ToolCalls: []providers.ToolCall{{ID: "call_1", Name: "weather", Arguments: map[string]interface{}{"city": "Oslo"}}},
	})
	msgs = append(msgs, providers.Message{Role: "tool", ToolCallID: "call_1", Content: "12C, overcast"})
	for i := 9; i < 12; i++ {
		msgs = append(msgs, userMsg(i))
	}
	return msgs
}

func TestSafeBoundaryNeverSplitsToolChain(t *testing.T) {
	msgs := toolChainHistory()

	if isSafeCut(msgs, 8) {
		t.Error("cut at 8 separates the tool result from its call")
	}
	if !isSafeCut(msgs, 7) {
		t.Error("cut at 7 keeps call and result together, should be safe")
	}
	if !isSafeCut(msgs, 9) {
		t.Error("cut at 9 drops both call and result, should be safe")
	}
	if got := safeBoundary(msgs, 8); got != 7 {
		t.Errorf("safeBoundary(8) = %d, want 7", got)
	}
}

func TestCompactTokenLimitPreservesToolChains(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.Mode = ModeTokenLimit
	cfg.MinMessages = 5
	cfg.TargetTokens = 1 // force the smallest tail
	c := NewCompactor(cfg, nil, nil)

	msgs := toolChainHistory()
	res, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}

	// len-min = 7 is already safe; the kept tail starts with the call.
	if res.CompactedCount != 5 {
		t.Fatalf("compacted to %d messages, want 5", res.CompactedCount)
	}
	kept := res.Messages
	if len(kept[0].ToolCalls) == 0 {
		t.Errorf("kept tail should start at the assistant tool call, got %+v", kept[0])
	}
	for _, m := range kept {
		if m.Role != "tool" {
			continue
		}
		found := false
		for _, k := range kept {
			for _, tc := range k.ToolCalls {
				if tc.ID == m.ToolCallID {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("orphaned tool result %q in compacted history", m.ToolCallID)
		}
	}
}

func TestCompactTokenLimitKeepsMinimumWhenOverBudget(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.Mode = ModeTokenLimit
	cfg.MinMessages = 3
	cfg.TargetTokens = 1
	c := NewCompactor(cfg, nil, nil)

	var msgs []providers.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, userMsg(i))
	}
	res, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if res.CompactedCount != 3 {
		t.Errorf("compacted to %d messages, want the 3-message minimum", res.CompactedCount)
	}
	if res.Messages[0].Content != msgs[7].Content {
		t.Errorf("kept tail starts at %q, want %q", res.Messages[0].Content, msgs[7].Content)
	}
}

func TestCompactSummaryChunksAndPreservesRecent(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.PreserveRecent = 4
	cfg.SummaryChunkSize = 10
	summarize := func(_ context.Context, msgs []providers.Message) (string, error) {
		return fmt.Sprintf("%d messages condensed", len(msgs)), nil
	}
	c := NewCompactor(cfg, summarize, nil)

	var msgs []providers.Message
	for i := 0; i < 24; i++ {
		msgs = append(msgs, userMsg(i))
	}
	res, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}

	// 20 old messages in chunks of 10, plus 4 verbatim.
	if res.CompactedCount != 6 {
		t.Fatalf("compacted to %d messages, want 6", res.CompactedCount)
	}
	for _, m := range res.Messages[:2] {
		if m.Role != "system" || !strings.HasPrefix(m.Content, "[Earlier conversation summary]: ") {
			t.Errorf("expected synthetic summary message, got %+v", m)
		}
	}
	for i, m := range res.Messages[2:] {
		if m.Content != msgs[20+i].Content {
			t.Errorf("recent message %d not kept verbatim: %q", i, m.Content)
		}
	}
	if res.TokensAfter >= res.TokensBefore {
		t.Errorf("tokens did not shrink: %d -> %d", res.TokensBefore, res.TokensAfter)
	}
	if res.CompactionRatio <= 0 || res.CompactionRatio >= 1 {
		t.Errorf("ratio = %f", res.CompactionRatio)
	}
}

func TestCompactSummaryShortHistoryUntouched(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.PreserveRecent = 10
	c := NewCompactor(cfg, nil, nil)

	msgs := []providers.Message{userMsg(0), userMsg(1)}
	res, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if res.CompactedCount != 2 {
		t.Errorf("short history modified: %d messages", res.CompactedCount)
	}
}

func TestShouldCompactThreshold(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.MinMessages = 2
	c := NewCompactor(cfg, nil, nil)

	var msgs []providers.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, userMsg(i))
	}
	tokens := CountMessageTokens(msgs)

	if c.ShouldCompact(msgs, tokens*2) {
		t.Error("compaction triggered below 80% threshold")
	}
	if !c.ShouldCompact(msgs, tokens) {
		t.Error("compaction not triggered at 100% usage")
	}

	// The trigger is strictly above the threshold, not at it.
	cfg.ThresholdPercent = 1.0
	if NewCompactor(cfg, nil, nil).ShouldCompact(msgs, tokens) {
		t.Error("compaction triggered exactly at the threshold")
	}

	cfg.Mode = ModeOff
	if NewCompactor(cfg, nil, nil).ShouldCompact(msgs, tokens) {
		t.Error("off mode must never trigger")
	}
}

func TestMemoryFlushErrorsAreNotFatal(t *testing.T) {
	cfg := DefaultCompactorConfig()
	cfg.EnableMemoryFlush = true
	cfg.PreserveRecent = 2
	flushed := false
	c := NewCompactor(cfg,
		func(_ context.Context, msgs []providers.Message) (string, error) { return "summary", nil },
		func(_ context.Context, _ []providers.Message) error {
			flushed = true
			return fmt.Errorf("memory store offline")
		})

	var msgs []providers.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, userMsg(i))
	}
	res, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatalf("flush failure propagated: %v", err)
	}
	if !flushed {
		t.Error("flush hook not invoked")
	}
	if res.CompactedCount >= res.OriginalCount {
		t.Error("history not compacted")
	}
}
