package amqp

import "testing"

func TestCommandMessageFromJSON(t *testing.T) {
	data := []byte(`{
		"bot_id": 12,
		"chat_id": -100123,
		"actor": "alice",
		"actor_id": 7,
		"kind": "income",
		"text": "+1000/7*0.95",
		"timestamp": "2024-03-10T02:15:00Z"
	}`)

	msg, err := CommandMessageFromJSON(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.BotID != 12 || msg.ChatID != -100123 {
		t.Fatalf("routing ids: bot=%d chat=%d", msg.BotID, msg.ChatID)
	}
	if msg.Kind != KindIncome {
		t.Fatalf("kind = %q", msg.Kind)
	}
	if msg.Text != "+1000/7*0.95" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("timestamp must parse")
	}
}

func TestCommandMessageFromJSON_Malformed(t *testing.T) {
	for _, in := range []string{"", "{", `"just a string"`, `{"bot_id": "twelve"}`} {
		if _, err := CommandMessageFromJSON([]byte(in)); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}
