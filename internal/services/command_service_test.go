package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tallybot/internal/amqp"
	"tallybot/internal/ledger"
	"tallybot/internal/storage"
	"tallybot/internal/store"
)

type fakeSettings struct {
	stored   *storage.ChatSettings
	saved    []storage.ChatSettings
	getCalls int
}

func (f *fakeSettings) GetChatSettings(ctx context.Context, botID, chatID int64) (*storage.ChatSettings, error) {
	f.getCalls++
	return f.stored, nil
}

func (f *fakeSettings) SaveChatSettings(ctx context.Context, s storage.ChatSettings) error {
	f.saved = append(f.saved, s)
	return nil
}

type fakeBills struct {
	saved    []storage.Bill
	listFrom time.Time
	listTo   time.Time
}

func (f *fakeBills) SaveBill(ctx context.Context, b storage.Bill) (string, error) {
	f.saved = append(f.saved, b)
	return "bill-1", nil
}

func (f *fakeBills) ListBills(ctx context.Context, botID, chatID int64, from, to time.Time) ([]storage.Bill, error) {
	f.listFrom, f.listTo = from, to
	return nil, nil
}

type fakePublisher struct {
	replies []amqp.ReplyMessage
	closed  []amqp.BillClosedMessage
}

func (f *fakePublisher) PublishReply(ctx context.Context, msg amqp.ReplyMessage) error {
	f.replies = append(f.replies, msg)
	return nil
}

func (f *fakePublisher) PublishBillClosed(ctx context.Context, msg amqp.BillClosedMessage) error {
	f.closed = append(f.closed, msg)
	return nil
}

func newTestService(settings *fakeSettings, bills *fakeBills, pub *fakePublisher) *CommandService {
	states := store.New(4, 16, time.Hour)
	var st SettingsStore
	if settings != nil {
		st = settings
	}
	var bs BillStore
	if bills != nil {
		bs = bills
	}
	var rp ReplyPublisher
	if pub != nil {
		rp = pub
	}
	return NewCommandService(states, st, bs, rp, 0)
}

func cmd(text string) Command {
	return Command{BotID: 1, ChatID: 100, Actor: "alice", ActorID: 7, Text: text}
}

func TestRecordIncome(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	sum, err := svc.RecordIncome(context.Background(), cmd("+1000/7*0.95"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.IncomeCount != 1 {
		t.Fatalf("income count = %d", sum.IncomeCount)
	}
	if !sum.TotalIncome.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("total income = %s", sum.TotalIncome)
	}
	// per-entry rate and fee multiplier convert without a configured ledger rate:
	// 1000 * 0.95 / 7 = 135.71
	if !sum.TotalIncomeUSDT.Equal(decimal.RequireFromString("135.71")) {
		t.Fatalf("total income USDT = %s", sum.TotalIncomeUSDT)
	}
}

func TestRecordIncome_NotCommandLeavesStateAlone(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.RecordIncome(context.Background(), cmd("hello everyone"))
	if !errors.Is(err, ledger.ErrNotCommand) {
		t.Fatalf("expected ErrNotCommand, got %v", err)
	}
	if sum := svc.Summarize(context.Background(), 1, 100); sum.IncomeCount != 0 {
		t.Fatal("rejected text must not create entries")
	}
}

func TestRecordPayout(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	if _, err := svc.RecordIncome(context.Background(), cmd("+500")); err != nil {
		t.Fatalf("income: %v", err)
	}
	sum, err := svc.RecordPayout(context.Background(), cmd("200"))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if !sum.TotalPayout.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("total payout = %s", sum.TotalPayout)
	}
	if !sum.NotPayout.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("not payout = %s", sum.NotPayout)
	}
}

func TestHydration(t *testing.T) {
	rate := decimal.NewFromInt(2)
	settings := &fakeSettings{stored: &storage.ChatSettings{
		BotID:      1,
		ChatID:     100,
		FixedRate:  &rate,
		FeePercent: decimal.NewFromInt(5),
		CutoffHour: 3,
		Operators:  []string{"alice"},
	}}
	svc := newTestService(settings, nil, nil)

	sum, err := svc.RecordIncome(context.Background(), cmd("+1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.getCalls != 1 {
		t.Fatalf("settings loaded %d times, want once", settings.getCalls)
	}
	if !sum.EffectiveRate.Equal(rate) {
		t.Fatalf("effective rate = %s", sum.EffectiveRate)
	}
	if !sum.Fee.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("fee = %s", sum.Fee)
	}

	// second access reuses the hydrated state
	if _, err := svc.RecordIncome(context.Background(), cmd("+1")); err != nil {
		t.Fatalf("second income: %v", err)
	}
	if settings.getCalls != 1 {
		t.Fatal("settings must only be read on state creation")
	}
}

func TestAuthorization(t *testing.T) {
	settings := &fakeSettings{stored: &storage.ChatSettings{
		BotID:     1,
		ChatID:    100,
		Operators: []string{"alice"},
	}}
	svc := newTestService(settings, nil, nil)

	if _, err := svc.RecordIncome(context.Background(), Command{
		BotID: 1, ChatID: 100, Actor: "mallory", ActorID: 666, Text: "+100",
	}); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if sum := svc.Summarize(context.Background(), 1, 100); sum.IncomeCount != 0 {
		t.Fatal("unauthorized command must not append")
	}

	if _, err := svc.RecordIncome(context.Background(), cmd("+100")); err != nil {
		t.Fatalf("alice must be allowed: %v", err)
	}
}

func TestSetFeePercent(t *testing.T) {
	settings := &fakeSettings{}
	svc := newTestService(settings, nil, nil)

	if err := svc.SetFeePercent(context.Background(), cmd("150")); !errors.Is(err, ledger.ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if len(settings.saved) != 0 {
		t.Fatal("rejected fee must not be persisted")
	}

	if err := svc.SetFeePercent(context.Background(), cmd("not a number")); !errors.Is(err, ledger.ErrNotCommand) {
		t.Fatalf("expected ErrNotCommand, got %v", err)
	}

	if err := svc.SetFeePercent(context.Background(), cmd("5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settings.saved) != 1 {
		t.Fatalf("settings saved %d times, want 1", len(settings.saved))
	}
	if !settings.saved[0].FeePercent.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("persisted fee = %s", settings.saved[0].FeePercent)
	}
}

func TestSetRates_PersistExclusive(t *testing.T) {
	settings := &fakeSettings{}
	svc := newTestService(settings, nil, nil)
	ctx := context.Background()

	if err := svc.SetRealtimeRate(ctx, cmd("6.8")); err != nil {
		t.Fatalf("realtime: %v", err)
	}
	if err := svc.SetFixedRate(ctx, cmd("7")); err != nil {
		t.Fatalf("fixed: %v", err)
	}

	last := settings.saved[len(settings.saved)-1]
	if last.RealtimeRate != nil {
		t.Fatal("persisted settings must not keep the displaced realtime rate")
	}
	if last.FixedRate == nil || !last.FixedRate.Equal(decimal.NewFromInt(7)) {
		t.Fatal("persisted fixed rate missing")
	}
}

func TestDefaultCutoffHour(t *testing.T) {
	bills := &fakeBills{}
	svc := NewCommandService(store.New(4, 16, time.Hour), nil, bills, nil, 4)

	if _, err := svc.BillsForDate(context.Background(), 1, 100, "2024-03-20"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bills.listFrom.Hour() != 4 {
		t.Fatalf("window starts at hour %d, want the default cutoff 4", bills.listFrom.Hour())
	}
}

func TestDefaultCutoffHour_StoredSettingsWin(t *testing.T) {
	settings := &fakeSettings{stored: &storage.ChatSettings{
		BotID:      1,
		ChatID:     100,
		CutoffHour: 2,
	}}
	bills := &fakeBills{}
	svc := NewCommandService(store.New(4, 16, time.Hour), settings, bills, nil, 4)

	if _, err := svc.BillsForDate(context.Background(), 1, 100, "2024-03-20"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bills.listFrom.Hour() != 2 {
		t.Fatalf("window starts at hour %d, stored settings must override the default", bills.listFrom.Hour())
	}
}

func TestClearRates(t *testing.T) {
	settings := &fakeSettings{}
	svc := newTestService(settings, nil, nil)
	ctx := context.Background()

	if err := svc.SetFixedRate(ctx, cmd("7")); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if _, err := svc.RecordIncome(ctx, cmd("+700")); err != nil {
		t.Fatalf("income: %v", err)
	}
	if err := svc.ClearRates(ctx, cmd("")); err != nil {
		t.Fatalf("clear: %v", err)
	}

	sum := svc.Summarize(ctx, 1, 100)
	if !sum.EffectiveRate.IsZero() {
		t.Fatalf("effective rate = %s after clear", sum.EffectiveRate)
	}
	if !sum.TotalIncomeUSDT.IsZero() {
		t.Fatalf("USDT total = %s after clear", sum.TotalIncomeUSDT)
	}

	last := settings.saved[len(settings.saved)-1]
	if last.FixedRate != nil || last.RealtimeRate != nil {
		t.Fatal("cleared rates must be persisted as absent")
	}
}

func TestCloseBill(t *testing.T) {
	bills := &fakeBills{}
	pub := &fakePublisher{}
	svc := newTestService(nil, bills, pub)
	ctx := context.Background()

	if _, err := svc.RecordIncome(ctx, cmd("+100")); err != nil {
		t.Fatalf("income: %v", err)
	}
	snap, billID, err := svc.CloseBill(ctx, cmd(""))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if billID != "bill-1" {
		t.Fatalf("bill id = %q", billID)
	}
	if len(snap.Incomes) != 1 {
		t.Fatalf("snapshot incomes = %d", len(snap.Incomes))
	}
	if len(bills.saved) != 1 {
		t.Fatalf("bills saved = %d", len(bills.saved))
	}
	if len(pub.closed) != 1 || pub.closed[0].BillID != "bill-1" {
		t.Fatal("bill closed notification missing")
	}

	if sum := svc.Summarize(ctx, 1, 100); sum.IncomeCount != 0 {
		t.Fatal("period must reset after close")
	}
}

func TestBillsForDate_UsesCutoffBounds(t *testing.T) {
	settings := &fakeSettings{stored: &storage.ChatSettings{
		BotID:      1,
		ChatID:     100,
		CutoffHour: 2,
	}}
	bills := &fakeBills{}
	svc := newTestService(settings, bills, nil)

	if _, err := svc.BillsForDate(context.Background(), 1, 100, "2024-03-20"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bills.listFrom.Hour() != 2 || bills.listTo.Hour() != 2 {
		t.Fatalf("bounds [%v, %v) must sit on the cutoff hour", bills.listFrom, bills.listTo)
	}
	if bills.listTo.Sub(bills.listFrom) != 24*time.Hour {
		t.Fatal("window must span exactly 24 hours")
	}

	if _, err := svc.BillsForDate(context.Background(), 1, 100, "not-a-date"); err == nil {
		t.Fatal("invalid date must error")
	}
}
