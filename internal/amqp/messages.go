package amqp

import (
	"encoding/json"
	"time"
)

// Command kinds understood by the engine. The transport in front of the bot
// normalizes whatever command language it speaks into these.
const (
	KindIncome          = "income"
	KindPayout          = "payout"
	KindSummary         = "summary"
	KindCloseBill       = "close_bill"
	KindSetFeePercent   = "set_fee_percent"
	KindSetFixedRate    = "set_fixed_rate"
	KindSetRealtimeRate = "set_realtime_rate"
	KindClearRates      = "clear_rates"
	KindSetCutoffHour   = "set_cutoff_hour"
	KindAddOperator     = "add_operator"
	KindRemoveOperator  = "remove_operator"
)

// CommandMessage is an inbound chat command routed to the ledger engine.
type CommandMessage struct {
	BotID     int64     `json:"bot_id"`
	ChatID    int64     `json:"chat_id"`
	Actor     string    `json:"actor"`
	ActorID   int64     `json:"actor_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyMessage is an outbound reply. Delivering it to the chat transport is
// the consumer's job, not the engine's.
type ReplyMessage struct {
	BotID     int64     `json:"bot_id"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// BillClosedMessage notifies downstream consumers that a billing period was
// closed and persisted.
type BillClosedMessage struct {
	BillID       string    `json:"bill_id"`
	BotID        int64     `json:"bot_id"`
	ChatID       int64     `json:"chat_id"`
	ClosedAt     time.Time `json:"closed_at"`
	TotalIncome  string    `json:"total_income"`
	TotalPayout  string    `json:"total_payout"`
	ShouldPayout string    `json:"should_payout"`
	NotPayout    string    `json:"not_payout"`
	Timestamp    time.Time `json:"timestamp"`
}

func CommandMessageFromJSON(data []byte) (*CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
