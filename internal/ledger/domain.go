// Package ledger implements the per-conversation accounting core: command
// parsing, billing-period boundaries, and the mutable ledger state with its
// summarization rules.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotCommand signals that a text is not an accounting command.
	// Callers fall through to other handling; it is not a failure.
	ErrNotCommand = errors.New("not an accounting command")

	ErrInvalidFee  = errors.New("fee percent must be between 0 and 100")
	ErrInvalidRate = errors.New("rate must be positive")
)

// Bounds on per-conversation collections. The engine keeps a bounded window,
// not a ledger of record; durable totals live in storage.
const (
	MaxPeriodEntries = 1000
	MaxHistory       = 30
	MaxOperators     = 100
	MaxUserLookup    = 200
)

type (
	// Entry is a single income or payout line. Immutable once appended;
	// a full-ledger reset (bill close) supersedes it.
	Entry struct {
		Amount  decimal.Decimal
		Rate    *decimal.Decimal
		FeeRate *decimal.Decimal
		USDT    *decimal.Decimal
		Actor   string
		At      time.Time
	}

	// Summary is the recomputed view over the open period.
	Summary struct {
		IncomeCount int
		PayoutCount int

		TotalIncome  decimal.Decimal
		TotalPayout  decimal.Decimal
		Fee          decimal.Decimal
		ShouldPayout decimal.Decimal
		NotPayout    decimal.Decimal

		TotalIncomeUSDT  decimal.Decimal
		TotalPayoutUSDT  decimal.Decimal
		ShouldPayoutUSDT decimal.Decimal
		NotPayoutUSDT    decimal.Decimal

		EffectiveRate decimal.Decimal
		FeePercent    decimal.Decimal
	}

	// BillSnapshot is a closed period kept in bounded history.
	BillSnapshot struct {
		ClosedAt time.Time
		Incomes  []Entry
		Payouts  []Entry
		Summary  Summary
	}
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)
