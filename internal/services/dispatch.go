package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tallybot/internal/amqp"
	"tallybot/internal/ledger"
	applog "tallybot/internal/log"
)

// HandleMessage routes one inbound command message. Texts that are not
// accounting commands are acknowledged silently; validation failures turn
// into a reply instead of an error so the queue never spins on bad input.
func (s *CommandService) HandleMessage(ctx context.Context, msg *amqp.CommandMessage) error {
	cmd := Command{
		BotID:   msg.BotID,
		ChatID:  msg.ChatID,
		Actor:   msg.Actor,
		ActorID: msg.ActorID,
		Text:    msg.Text,
		At:      msg.Timestamp,
	}

	var reply string
	var err error

	switch msg.Kind {
	case amqp.KindIncome:
		var sum ledger.Summary
		sum, err = s.RecordIncome(ctx, cmd)
		if err == nil {
			reply = FormatSummary(sum)
		}
	case amqp.KindPayout:
		var sum ledger.Summary
		sum, err = s.RecordPayout(ctx, cmd)
		if err == nil {
			reply = FormatSummary(sum)
		}
	case amqp.KindSummary:
		reply = FormatSummary(s.Summarize(ctx, msg.BotID, msg.ChatID))
	case amqp.KindCloseBill:
		var billID string
		_, billID, err = s.CloseBill(ctx, cmd)
		if err == nil {
			reply = "bill closed: " + billID
		}
	case amqp.KindSetFeePercent:
		err = s.SetFeePercent(ctx, cmd)
		if err == nil {
			reply = "fee percent set to " + strings.TrimSpace(cmd.Text)
		}
	case amqp.KindSetFixedRate:
		err = s.SetFixedRate(ctx, cmd)
		if err == nil {
			reply = "fixed rate set to " + strings.TrimSpace(cmd.Text)
		}
	case amqp.KindSetRealtimeRate:
		err = s.SetRealtimeRate(ctx, cmd)
		if err == nil {
			reply = "realtime rate set to " + strings.TrimSpace(cmd.Text)
		}
	case amqp.KindClearRates:
		err = s.ClearRates(ctx, cmd)
		if err == nil {
			reply = "rates cleared"
		}
	case amqp.KindSetCutoffHour:
		err = s.SetCutoffHour(ctx, cmd)
		if err == nil {
			reply = "cutoff hour set to " + strings.TrimSpace(cmd.Text)
		}
	case amqp.KindAddOperator:
		err = s.AddOperator(ctx, cmd)
		if err == nil {
			reply = "operator added: " + strings.TrimSpace(cmd.Text)
		}
	case amqp.KindRemoveOperator:
		err = s.RemoveOperator(ctx, cmd)
		if err == nil {
			reply = "operator removed: " + strings.TrimSpace(cmd.Text)
		}
	default:
		slog.WarnContext(ctx, "Unknown command kind",
			applog.C(applog.ComponentService), applog.FieldKind, msg.Kind)
		return nil
	}

	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotCommand):
		// plain chatter, not addressed to the ledger
		return nil
	case errors.Is(err, ledger.ErrInvalidFee),
		errors.Is(err, ledger.ErrInvalidRate),
		errors.Is(err, ErrNotOperator):
		reply = err.Error()
	default:
		return err
	}

	if reply == "" || s.publisher == nil {
		return nil
	}
	return s.publisher.PublishReply(ctx, amqp.ReplyMessage{
		BotID:  msg.BotID,
		ChatID: msg.ChatID,
		Text:   reply,
	})
}

// FormatSummary renders the open-period totals as a compact reply.
func FormatSummary(sum ledger.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "income(%d): %s", sum.IncomeCount, sum.TotalIncome.String())
	if sum.EffectiveRate.IsPositive() {
		fmt.Fprintf(&b, " | %s USDT", sum.TotalIncomeUSDT.String())
	}
	fmt.Fprintf(&b, "\npayout(%d): %s", sum.PayoutCount, sum.TotalPayout.String())
	if sum.EffectiveRate.IsPositive() {
		fmt.Fprintf(&b, " | %s USDT", sum.TotalPayoutUSDT.String())
	}
	fmt.Fprintf(&b, "\nfee %s%%: %s", sum.FeePercent.String(), sum.Fee.String())
	fmt.Fprintf(&b, "\nshould payout: %s", sum.ShouldPayout.String())
	fmt.Fprintf(&b, "\nnot yet paid: %s", sum.NotPayout.String())
	if sum.EffectiveRate.IsPositive() {
		fmt.Fprintf(&b, " | %s USDT", sum.NotPayoutUSDT.String())
	}
	return b.String()
}
