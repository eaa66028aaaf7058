package bus

import (
	"testing"
)

func TestSendDeliversToRecipient(t *testing.T) {
	b := NewMessageBus()
	b.RegisterBot("coder", "Coder")
	b.RegisterBot("researcher", "Researcher")

	var got []BotMessage
	b.Subscribe("coder", func(m BotMessage) { got = append(got, m) })

	id := b.Send(NewBotMessage("researcher", "coder", KindRequest, "hello", nil))
	if id == "" {
		t.Fatal("expected assigned message id")
	}
	if len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("expected one delivery, got %v", got)
	}

	bots := b.ListBots()
	if bots["coder"].MessageCount != 1 {
		t.Errorf("coder message count = %d, want 1", bots["coder"].MessageCount)
	}
	if bots["researcher"].MessageCount != 0 {
		t.Errorf("researcher message count = %d, want 0", bots["researcher"].MessageCount)
	}
}

func TestTeamBroadcastSkipsSender(t *testing.T) {
	b := NewMessageBus()
	for _, id := range []string{"coordinator", "coder", "designer"} {
		b.RegisterBot(id, id)
	}

	delivered := map[string]int{}
	for _, id := range []string{"coordinator", "coder", "designer"} {
		botID := id
		b.Subscribe(botID, func(m BotMessage) { delivered[botID]++ })
	}

	b.Send(NewBotMessage("coordinator", TeamRecipient, KindBroadcast, "standup", nil))

	if delivered["coordinator"] != 0 {
		t.Errorf("broadcast echoed to sender")
	}
	if delivered["coder"] != 1 || delivered["designer"] != 1 {
		t.Errorf("broadcast not delivered to team: %v", delivered)
	}
}

func TestRegisterBotIdempotent(t *testing.T) {
	b := NewMessageBus()
	b.RegisterBot("coder", "Coder")
	b.Send(NewBotMessage("x", "coder", KindRequest, "one", nil))
	b.RegisterBot("coder", "Coder v2")

	bots := b.ListBots()
	if bots["coder"].MessageCount != 1 {
		t.Errorf("re-registration reset message count: %d", bots["coder"].MessageCount)
	}
	if bots["coder"].Name != "Coder v2" {
		t.Errorf("re-registration did not update name: %q", bots["coder"].Name)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	b := NewMessageBus()
	b.RegisterBot("coder", "Coder")
	for i := 0; i < 5; i++ {
		b.Send(NewBotMessage("x", "coder", KindRequest, string(rune('a'+i)), nil))
	}

	hist := b.History(2)
	if len(hist) != 2 {
		t.Fatalf("history limit ignored: %d entries", len(hist))
	}
	if hist[0].Content != "d" || hist[1].Content != "e" {
		t.Errorf("history not FIFO: %q, %q", hist[0].Content, hist[1].Content)
	}
}

func TestHandlerMayCallBackIntoBus(t *testing.T) {
	b := NewMessageBus()
	b.RegisterBot("a", "a")
	b.RegisterBot("b", "b")

	var replies int
	b.Subscribe("a", func(m BotMessage) {
		if m.Kind == KindRequest {
			b.Send(NewBotMessage("a", "b", KindResponse, "ack", nil))
		}
	})
	b.Subscribe("b", func(m BotMessage) { replies++ })

	b.Send(NewBotMessage("b", "a", KindRequest, "ping", nil))
	if replies != 1 {
		t.Errorf("nested send did not deliver: replies=%d", replies)
	}
}

func TestEnvelopeSessionKey(t *testing.T) {
	e := MessageEnvelope{RoomID: "general", Channel: "telegram", ChatID: "42"}
	if got := e.SessionKey(); got != "general|telegram|42" {
		t.Errorf("SessionKey() = %q", got)
	}
}
