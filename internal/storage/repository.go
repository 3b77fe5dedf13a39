// Package storage persists closed bills and per-chat settings in sqlite.
// The in-memory engine stays the source of truth for the open period; this
// layer only holds what must survive eviction and restarts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tallybot/internal/ledger"
	applog "tallybot/internal/log"

	_ "modernc.org/sqlite"
)

// ChatSettings is the durable configuration of one conversation, hydrated
// into a fresh ledger state on first access.
type ChatSettings struct {
	BotID        int64
	ChatID       int64
	FixedRate    *decimal.Decimal
	RealtimeRate *decimal.Decimal
	FeePercent   decimal.Decimal
	CutoffHour   int
	Operators    []string
	OperatorIDs  []int64
}

// Bill is a closed billing period as persisted.
type Bill struct {
	ID       string
	BotID    int64
	ChatID   int64
	ClosedAt time.Time
	Summary  ledger.Summary
	Incomes  []ledger.Entry
	Payouts  []ledger.Entry
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetChatSettings loads the settings for a conversation. A conversation
// never configured returns (nil, nil).
func (r *SQLiteRepository) GetChatSettings(ctx context.Context, botID, chatID int64) (*ChatSettings, error) {
	row, err := r.queries.getChatSettings(ctx, botID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat settings: %w", err)
	}
	return settingsFromRow(row)
}

// SaveChatSettings upserts the settings for a conversation.
func (r *SQLiteRepository) SaveChatSettings(ctx context.Context, s ChatSettings) error {
	row, err := settingsToRow(s)
	if err != nil {
		return err
	}
	if err := r.queries.upsertChatSettings(ctx, row); err != nil {
		return fmt.Errorf("save chat settings: %w", err)
	}
	slog.InfoContext(ctx, "Chat settings saved",
		applog.C(applog.ComponentStorage),
		applog.FieldBotID, s.BotID,
		applog.FieldChatID, s.ChatID,
		applog.FieldFeePercent, s.FeePercent.String(),
		applog.FieldCutoffHour, s.CutoffHour)
	return nil
}

// SaveBill persists a closed bill with its entries in one transaction and
// returns the bill id. An empty incoming id gets a fresh uuid.
func (r *SQLiteRepository) SaveBill(ctx context.Context, b Bill) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.insertBill(ctx, billToRow(b)); err != nil {
		return "", fmt.Errorf("insert bill: %w", err)
	}
	for _, e := range b.Incomes {
		if err := q.insertBillEntry(ctx, entryToRow(b.ID, "income", e)); err != nil {
			return "", fmt.Errorf("insert income entry: %w", err)
		}
	}
	for _, e := range b.Payouts {
		if err := q.insertBillEntry(ctx, entryToRow(b.ID, "payout", e)); err != nil {
			return "", fmt.Errorf("insert payout entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit bill: %w", err)
	}

	slog.InfoContext(ctx, "Bill saved",
		applog.C(applog.ComponentStorage),
		applog.FieldBillID, b.ID,
		applog.FieldBotID, b.BotID,
		applog.FieldChatID, b.ChatID,
		"incomes", len(b.Incomes),
		"payouts", len(b.Payouts))
	return b.ID, nil
}

// ListBills returns the closed bills of a conversation whose close time
// falls in [from, to), oldest first, without entries.
func (r *SQLiteRepository) ListBills(ctx context.Context, botID, chatID int64, from, to time.Time) ([]Bill, error) {
	rows, err := r.queries.listBills(ctx, botID, chatID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	bills := make([]Bill, 0, len(rows))
	for _, row := range rows {
		b, err := billFromRow(row)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, nil
}

// GetBillEntries returns the persisted entries of one bill.
func (r *SQLiteRepository) GetBillEntries(ctx context.Context, billID string) (incomes, payouts []ledger.Entry, err error) {
	rows, err := r.queries.listBillEntries(ctx, billID)
	if err != nil {
		return nil, nil, fmt.Errorf("list bill entries: %w", err)
	}
	for _, row := range rows {
		e, err := entryFromRow(row)
		if err != nil {
			return nil, nil, err
		}
		if row.Kind == "payout" {
			payouts = append(payouts, e)
		} else {
			incomes = append(incomes, e)
		}
	}
	return incomes, payouts, nil
}

func settingsToRow(s ChatSettings) (chatSettingsRow, error) {
	ops, err := json.Marshal(s.Operators)
	if err != nil {
		return chatSettingsRow{}, fmt.Errorf("marshal operators: %w", err)
	}
	ids, err := json.Marshal(s.OperatorIDs)
	if err != nil {
		return chatSettingsRow{}, fmt.Errorf("marshal operator ids: %w", err)
	}
	return chatSettingsRow{
		BotID:        s.BotID,
		ChatID:       s.ChatID,
		FixedRate:    nullDecimal(s.FixedRate),
		RealtimeRate: nullDecimal(s.RealtimeRate),
		FeePercent:   s.FeePercent.String(),
		CutoffHour:   int64(s.CutoffHour),
		Operators:    string(ops),
		OperatorIDs:  string(ids),
	}, nil
}

func settingsFromRow(row chatSettingsRow) (*ChatSettings, error) {
	fee, err := decimal.NewFromString(row.FeePercent)
	if err != nil {
		return nil, fmt.Errorf("parse fee percent %q: %w", row.FeePercent, err)
	}
	s := &ChatSettings{
		BotID:      row.BotID,
		ChatID:     row.ChatID,
		FeePercent: fee,
		CutoffHour: int(row.CutoffHour),
	}
	if s.FixedRate, err = decimalPtr(row.FixedRate); err != nil {
		return nil, err
	}
	if s.RealtimeRate, err = decimalPtr(row.RealtimeRate); err != nil {
		return nil, err
	}
	if row.Operators != "" {
		if err := json.Unmarshal([]byte(row.Operators), &s.Operators); err != nil {
			return nil, fmt.Errorf("unmarshal operators: %w", err)
		}
	}
	if row.OperatorIDs != "" {
		if err := json.Unmarshal([]byte(row.OperatorIDs), &s.OperatorIDs); err != nil {
			return nil, fmt.Errorf("unmarshal operator ids: %w", err)
		}
	}
	return s, nil
}

func billToRow(b Bill) billRow {
	return billRow{
		ID:            b.ID,
		BotID:         b.BotID,
		ChatID:        b.ChatID,
		ClosedAt:      b.ClosedAt,
		TotalIncome:   b.Summary.TotalIncome.String(),
		TotalPayout:   b.Summary.TotalPayout.String(),
		Fee:           b.Summary.Fee.String(),
		ShouldPayout:  b.Summary.ShouldPayout.String(),
		NotPayout:     b.Summary.NotPayout.String(),
		EffectiveRate: b.Summary.EffectiveRate.String(),
		FeePercent:    b.Summary.FeePercent.String(),
	}
}

func billFromRow(row billRow) (Bill, error) {
	b := Bill{
		ID:       row.ID,
		BotID:    row.BotID,
		ChatID:   row.ChatID,
		ClosedAt: row.ClosedAt,
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Summary.TotalIncome, row.TotalIncome},
		{&b.Summary.TotalPayout, row.TotalPayout},
		{&b.Summary.Fee, row.Fee},
		{&b.Summary.ShouldPayout, row.ShouldPayout},
		{&b.Summary.NotPayout, row.NotPayout},
		{&b.Summary.EffectiveRate, row.EffectiveRate},
		{&b.Summary.FeePercent, row.FeePercent},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Bill{}, fmt.Errorf("parse bill %s: %w", row.ID, err)
		}
		*f.dst = d
	}
	return b, nil
}

func entryToRow(billID, kind string, e ledger.Entry) billEntryRow {
	return billEntryRow{
		BillID:     billID,
		Kind:       kind,
		Amount:     e.Amount.String(),
		Rate:       nullDecimal(e.Rate),
		FeeRate:    nullDecimal(e.FeeRate),
		USDT:       nullDecimal(e.USDT),
		Actor:      e.Actor,
		RecordedAt: e.At,
	}
}

func entryFromRow(row billEntryRow) (ledger.Entry, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("parse entry amount %q: %w", row.Amount, err)
	}
	e := ledger.Entry{Amount: amount, Actor: row.Actor, At: row.RecordedAt}
	if e.Rate, err = decimalPtr(row.Rate); err != nil {
		return ledger.Entry{}, err
	}
	if e.FeeRate, err = decimalPtr(row.FeeRate); err != nil {
		return ledger.Entry{}, err
	}
	if e.USDT, err = decimalPtr(row.USDT); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", ns.String, err)
	}
	return &d, nil
}
