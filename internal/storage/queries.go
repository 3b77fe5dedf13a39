package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so queries run inside or outside
// a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type chatSettingsRow struct {
	BotID        int64
	ChatID       int64
	FixedRate    sql.NullString
	RealtimeRate sql.NullString
	FeePercent   string
	CutoffHour   int64
	Operators    string
	OperatorIDs  string
}

const getChatSettingsSQL = `
SELECT bot_id, chat_id, fixed_rate, realtime_rate, fee_percent, cutoff_hour, operators, operator_ids
FROM chat_settings
WHERE bot_id = ? AND chat_id = ?`

func (q *Queries) getChatSettings(ctx context.Context, botID, chatID int64) (chatSettingsRow, error) {
	var row chatSettingsRow
	err := q.db.QueryRowContext(ctx, getChatSettingsSQL, botID, chatID).Scan(
		&row.BotID, &row.ChatID, &row.FixedRate, &row.RealtimeRate,
		&row.FeePercent, &row.CutoffHour, &row.Operators, &row.OperatorIDs,
	)
	return row, err
}

const upsertChatSettingsSQL = `
INSERT INTO chat_settings (bot_id, chat_id, fixed_rate, realtime_rate, fee_percent, cutoff_hour, operators, operator_ids, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (bot_id, chat_id) DO UPDATE SET
    fixed_rate = excluded.fixed_rate,
    realtime_rate = excluded.realtime_rate,
    fee_percent = excluded.fee_percent,
    cutoff_hour = excluded.cutoff_hour,
    operators = excluded.operators,
    operator_ids = excluded.operator_ids,
    updated_at = CURRENT_TIMESTAMP`

func (q *Queries) upsertChatSettings(ctx context.Context, row chatSettingsRow) error {
	_, err := q.db.ExecContext(ctx, upsertChatSettingsSQL,
		row.BotID, row.ChatID, row.FixedRate, row.RealtimeRate,
		row.FeePercent, row.CutoffHour, row.Operators, row.OperatorIDs,
	)
	return err
}

type billRow struct {
	ID            string
	BotID         int64
	ChatID        int64
	ClosedAt      time.Time
	TotalIncome   string
	TotalPayout   string
	Fee           string
	ShouldPayout  string
	NotPayout     string
	EffectiveRate string
	FeePercent    string
}

const insertBillSQL = `
INSERT INTO bills (id, bot_id, chat_id, closed_at, total_income, total_payout, fee, should_payout, not_payout, effective_rate, fee_percent)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) insertBill(ctx context.Context, row billRow) error {
	_, err := q.db.ExecContext(ctx, insertBillSQL,
		row.ID, row.BotID, row.ChatID, row.ClosedAt,
		row.TotalIncome, row.TotalPayout, row.Fee,
		row.ShouldPayout, row.NotPayout, row.EffectiveRate, row.FeePercent,
	)
	return err
}

const listBillsSQL = `
SELECT id, bot_id, chat_id, closed_at, total_income, total_payout, fee, should_payout, not_payout, effective_rate, fee_percent
FROM bills
WHERE bot_id = ? AND chat_id = ? AND closed_at >= ? AND closed_at < ?
ORDER BY closed_at`

func (q *Queries) listBills(ctx context.Context, botID, chatID int64, from, to time.Time) ([]billRow, error) {
	rows, err := q.db.QueryContext(ctx, listBillsSQL, botID, chatID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []billRow
	for rows.Next() {
		var b billRow
		if err := rows.Scan(&b.ID, &b.BotID, &b.ChatID, &b.ClosedAt,
			&b.TotalIncome, &b.TotalPayout, &b.Fee,
			&b.ShouldPayout, &b.NotPayout, &b.EffectiveRate, &b.FeePercent); err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

type billEntryRow struct {
	BillID     string
	Kind       string
	Amount     string
	Rate       sql.NullString
	FeeRate    sql.NullString
	USDT       sql.NullString
	Actor      string
	RecordedAt time.Time
}

const insertBillEntrySQL = `
INSERT INTO bill_entries (bill_id, kind, amount, rate, fee_rate, usdt, actor, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) insertBillEntry(ctx context.Context, row billEntryRow) error {
	_, err := q.db.ExecContext(ctx, insertBillEntrySQL,
		row.BillID, row.Kind, row.Amount, row.Rate, row.FeeRate,
		row.USDT, row.Actor, row.RecordedAt,
	)
	return err
}

const listBillEntriesSQL = `
SELECT bill_id, kind, amount, rate, fee_rate, usdt, actor, recorded_at
FROM bill_entries
WHERE bill_id = ?
ORDER BY id`

func (q *Queries) listBillEntries(ctx context.Context, billID string) ([]billEntryRow, error) {
	rows, err := q.db.QueryContext(ctx, listBillEntriesSQL, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []billEntryRow
	for rows.Next() {
		var e billEntryRow
		if err := rows.Scan(&e.BillID, &e.Kind, &e.Amount, &e.Rate,
			&e.FeeRate, &e.USDT, &e.Actor, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
