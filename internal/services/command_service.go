// Package services orchestrates the ledger engine: it applies parsed chat
// commands to in-memory state, hydrates and persists settings, and hands
// closed bills to storage and the reply queue.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tallybot/internal/amqp"
	"tallybot/internal/ledger"
	applog "tallybot/internal/log"
	"tallybot/internal/storage"
	"tallybot/internal/store"
)

// ErrNotOperator rejects a mutating command from an actor outside the
// conversation's allowlist.
var ErrNotOperator = errors.New("actor is not an allowed operator")

// SettingsStore persists per-conversation configuration.
type SettingsStore interface {
	GetChatSettings(ctx context.Context, botID, chatID int64) (*storage.ChatSettings, error)
	SaveChatSettings(ctx context.Context, s storage.ChatSettings) error
}

// BillStore persists closed bills.
type BillStore interface {
	SaveBill(ctx context.Context, b storage.Bill) (string, error)
	ListBills(ctx context.Context, botID, chatID int64, from, to time.Time) ([]storage.Bill, error)
}

// ReplyPublisher hands outbound messages to the transport boundary.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, msg amqp.ReplyMessage) error
	PublishBillClosed(ctx context.Context, msg amqp.BillClosedMessage) error
}

// Command is one inbound chat command addressed to a conversation ledger.
type Command struct {
	BotID   int64
	ChatID  int64
	Actor   string
	ActorID int64
	Text    string
	At      time.Time
}

// CommandService wires the bounded store to durable settings, bills, and the
// reply queue. Settings and publisher may be nil; the engine then runs purely
// in memory, which is how most tests use it.
type CommandService struct {
	states            *store.Store
	settings          SettingsStore
	bills             BillStore
	publisher         ReplyPublisher
	defaultCutoffHour int
}

func NewCommandService(states *store.Store, settings SettingsStore, bills BillStore, publisher ReplyPublisher, defaultCutoffHour int) *CommandService {
	return &CommandService{
		states:            states,
		settings:          settings,
		bills:             bills,
		publisher:         publisher,
		defaultCutoffHour: defaultCutoffHour,
	}
}

// ledgerFor returns the conversation state, hydrating durable settings when
// the store created it fresh. An evicted conversation comes back empty and is
// re-hydrated the same way; eviction is never surfaced to callers. A
// conversation with no stored settings starts on the configured default
// cutoff hour.
func (s *CommandService) ledgerFor(ctx context.Context, botID, chatID int64) *ledger.State {
	st, created := s.states.Get(botID, chatID)
	if !created {
		return st
	}
	st.SetCutoffHour(s.defaultCutoffHour)
	if s.settings == nil {
		return st
	}

	saved, err := s.settings.GetChatSettings(ctx, botID, chatID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load chat settings",
			applog.C(applog.ComponentService),
			applog.FieldBotID, botID,
			applog.FieldChatID, chatID,
			applog.FieldError, err)
		return st
	}
	if saved == nil {
		return st
	}

	if saved.FixedRate != nil {
		_ = st.SetFixedRate(*saved.FixedRate)
	} else if saved.RealtimeRate != nil {
		_ = st.SetRealtimeRate(*saved.RealtimeRate)
	}
	if err := st.SetFeePercent(saved.FeePercent); err != nil {
		slog.WarnContext(ctx, "Ignoring stored fee percent out of range",
			applog.C(applog.ComponentService),
			applog.FieldBotID, botID,
			applog.FieldChatID, chatID,
			applog.FieldFeePercent, saved.FeePercent.String())
	}
	st.SetCutoffHour(saved.CutoffHour)
	for _, op := range saved.Operators {
		st.AddOperator(op)
	}
	for _, id := range saved.OperatorIDs {
		st.AddOperatorID(id)
	}
	return st
}

func commandTime(cmd Command) time.Time {
	if cmd.At.IsZero() {
		return time.Now()
	}
	return cmd.At
}

// RecordIncome parses the command text and appends an income entry.
// ledger.ErrNotCommand passes through untouched so the caller can fall back
// to other handling without mutating anything.
func (s *CommandService) RecordIncome(ctx context.Context, cmd Command) (ledger.Summary, error) {
	parsed, err := ledger.Parse(cmd.Text)
	if err != nil {
		return ledger.Summary{}, err
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ledger.Summary{}, ErrNotOperator
	}
	st.RememberUser(cmd.Actor, cmd.ActorID)
	st.AppendIncome(parsed.Amount, parsed.Rate, parsed.FeeRate, cmd.Actor, commandTime(cmd))
	return st.Summarize(), nil
}

// RecordPayout parses the command text and appends a payout entry. Modifier
// suffixes are ignored for payouts; only the amount is kept.
func (s *CommandService) RecordPayout(ctx context.Context, cmd Command) (ledger.Summary, error) {
	parsed, err := ledger.Parse(cmd.Text)
	if err != nil {
		return ledger.Summary{}, err
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ledger.Summary{}, ErrNotOperator
	}
	st.RememberUser(cmd.Actor, cmd.ActorID)
	st.AppendPayout(parsed.Amount, cmd.Actor, commandTime(cmd))
	return st.Summarize(), nil
}

// Summarize recomputes the open-period summary for a conversation.
func (s *CommandService) Summarize(ctx context.Context, botID, chatID int64) ledger.Summary {
	return s.ledgerFor(ctx, botID, chatID).Summarize()
}

// SetFeePercent applies a fee percentage. Out-of-range values return
// ledger.ErrInvalidFee and leave state and storage untouched.
func (s *CommandService) SetFeePercent(ctx context.Context, cmd Command) error {
	p, err := decimal.NewFromString(strings.TrimSpace(cmd.Text))
	if err != nil {
		return ledger.ErrNotCommand
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	if err := st.SetFeePercent(p); err != nil {
		return err
	}
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// SetFixedRate applies a fixed exchange rate, displacing any realtime rate.
func (s *CommandService) SetFixedRate(ctx context.Context, cmd Command) error {
	return s.setRate(ctx, cmd, (*ledger.State).SetFixedRate)
}

// SetRealtimeRate applies a realtime exchange rate, displacing any fixed rate.
func (s *CommandService) SetRealtimeRate(ctx context.Context, cmd Command) error {
	return s.setRate(ctx, cmd, (*ledger.State).SetRealtimeRate)
}

func (s *CommandService) setRate(ctx context.Context, cmd Command, set func(*ledger.State, decimal.Decimal) error) error {
	r, err := decimal.NewFromString(strings.TrimSpace(cmd.Text))
	if err != nil {
		return ledger.ErrNotCommand
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	if err := set(st, r); err != nil {
		return err
	}
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// ClearRates removes both exchange rates; USDT figures go back to zero until
// a rate is configured again.
func (s *CommandService) ClearRates(ctx context.Context, cmd Command) error {
	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	st.ClearRates()
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// SetCutoffHour stores the billing-day boundary hour for the conversation.
func (s *CommandService) SetCutoffHour(ctx context.Context, cmd Command) error {
	hour, err := strconv.Atoi(strings.TrimSpace(cmd.Text))
	if err != nil {
		return ledger.ErrNotCommand
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	st.SetCutoffHour(hour)
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// AddOperator allowlists an operator name. The transient username cache
// supplies the user id when the name was seen before.
func (s *CommandService) AddOperator(ctx context.Context, cmd Command) error {
	name := strings.TrimSpace(cmd.Text)
	if name == "" {
		return ledger.ErrNotCommand
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	st.AddOperator(name)
	if id, ok := st.LookupUser(name); ok {
		st.AddOperatorID(id)
	}
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// RemoveOperator removes an operator name from the allowlist.
func (s *CommandService) RemoveOperator(ctx context.Context, cmd Command) error {
	name := strings.TrimSpace(cmd.Text)
	if name == "" {
		return ledger.ErrNotCommand
	}

	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ErrNotOperator
	}
	st.RemoveOperator(name)
	if id, ok := st.LookupUser(name); ok {
		st.RemoveOperatorID(id)
	}
	return s.persistSettings(ctx, cmd.BotID, cmd.ChatID, st)
}

// CloseBill snapshots the open period, persists it, resets the period, and
// publishes a bill-closed notification. Persistence failure aborts nothing
// in memory; the snapshot already sits in bounded history.
func (s *CommandService) CloseBill(ctx context.Context, cmd Command) (ledger.BillSnapshot, string, error) {
	st := s.ledgerFor(ctx, cmd.BotID, cmd.ChatID)
	if !st.Authorized(cmd.Actor, cmd.ActorID) {
		return ledger.BillSnapshot{}, "", ErrNotOperator
	}

	snap := st.CloseBill(commandTime(cmd))

	var billID string
	if s.bills != nil {
		var err error
		billID, err = s.bills.SaveBill(ctx, storage.Bill{
			BotID:    cmd.BotID,
			ChatID:   cmd.ChatID,
			ClosedAt: snap.ClosedAt,
			Summary:  snap.Summary,
			Incomes:  snap.Incomes,
			Payouts:  snap.Payouts,
		})
		if err != nil {
			return snap, "", fmt.Errorf("save bill: %w", err)
		}
	}

	if s.publisher != nil {
		err := s.publisher.PublishBillClosed(ctx, amqp.BillClosedMessage{
			BillID:       billID,
			BotID:        cmd.BotID,
			ChatID:       cmd.ChatID,
			ClosedAt:     snap.ClosedAt,
			TotalIncome:  snap.Summary.TotalIncome.String(),
			TotalPayout:  snap.Summary.TotalPayout.String(),
			ShouldPayout: snap.Summary.ShouldPayout.String(),
			NotPayout:    snap.Summary.NotPayout.String(),
		})
		if err != nil {
			// The bill is saved; a lost notification must not fail the close.
			slog.ErrorContext(ctx, "Failed to publish bill closed",
				applog.C(applog.ComponentService),
				applog.FieldBillID, billID,
				applog.FieldError, err)
		}
	}

	return snap, billID, nil
}

// BillsForDate returns the persisted bills of the billing period for a
// "YYYY-MM-DD" date, resolved against the conversation's cutoff hour.
func (s *CommandService) BillsForDate(ctx context.Context, botID, chatID int64, date string) ([]storage.Bill, error) {
	if s.bills == nil {
		return nil, nil
	}
	st := s.ledgerFor(ctx, botID, chatID)
	start, end, err := ledger.PeriodBoundsForDate(date, st.CutoffHour(), time.Local)
	if err != nil {
		return nil, err
	}
	return s.bills.ListBills(ctx, botID, chatID, start, end)
}

func (s *CommandService) persistSettings(ctx context.Context, botID, chatID int64, st *ledger.State) error {
	if s.settings == nil {
		return nil
	}
	err := s.settings.SaveChatSettings(ctx, storage.ChatSettings{
		BotID:        botID,
		ChatID:       chatID,
		FixedRate:    st.FixedRate(),
		RealtimeRate: st.RealtimeRate(),
		FeePercent:   st.FeePercent(),
		CutoffHour:   st.CutoffHour(),
		Operators:    st.Operators(),
		OperatorIDs:  st.OperatorIDs(),
	})
	if err != nil {
		return fmt.Errorf("persist chat settings: %w", err)
	}
	return nil
}
