package sessions

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"botfleet/internal/providers"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token footprint of text. Uses cl100k_base
// when the encoding loads, otherwise a chars/4 heuristic.
func CountTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// CountMessageTokens sums token estimates over a message slice, with a
// small per-message overhead for role framing.
func CountMessageTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += CountTokens(m.Content) + 4
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			total += CountTokens(tc.Name) + CountTokens(string(args))
		}
	}
	return total
}
