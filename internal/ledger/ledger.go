package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State is the mutable ledger of one conversation. All methods are safe for
// concurrent use; the host may dispatch different conversations in parallel
// and the sweep runs on a timer next to ordinary access.
type State struct {
	mu sync.Mutex

	operators   map[string]struct{}
	operatorIDs map[int64]struct{}

	fixedRate    *decimal.Decimal
	realtimeRate *decimal.Decimal
	feePercent   decimal.Decimal
	cutoffHour   int

	incomes []Entry
	payouts []Entry
	history []BillSnapshot

	// transient username -> user id lookup, bounded and cleared by sweeps
	userIDs map[string]int64

	lastActivity time.Time
}

// NewState returns an empty ledger for a conversation.
func NewState() *State {
	return &State{
		operators:    make(map[string]struct{}),
		operatorIDs:  make(map[int64]struct{}),
		userIDs:      make(map[string]int64),
		lastActivity: time.Now(),
	}
}

// Touch refreshes the activity clock that drives inactivity eviction.
func (s *State) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// LastActivity returns the time of the most recent access.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CutoffHour returns the configured billing-day boundary hour.
func (s *State) CutoffHour() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoffHour
}

// SetCutoffHour stores the billing-day boundary hour. Out-of-range values are
// kept as-is; the period calculator falls back to 0 for them.
func (s *State) SetCutoffHour(hour int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffHour = hour
}

// AppendIncome records an income entry. Rate and feeRate may be nil. When the
// entry carries its own rate the USDT equivalent is fixed at append time so a
// later rate change cannot restate it.
func (s *State) AppendIncome(amount decimal.Decimal, rate, feeRate *decimal.Decimal, actor string, at time.Time) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Amount: amount.Round(amountPlaces), Rate: rate, FeeRate: feeRate, Actor: actor, At: at}
	if rate != nil && rate.IsPositive() {
		u := entryUSDT(e.Amount, *rate, feeRate, s.feePercent)
		e.USDT = &u
	}
	s.incomes = append(s.incomes, e)
	if len(s.incomes) > MaxPeriodEntries {
		s.incomes = s.incomes[len(s.incomes)-MaxPeriodEntries:]
	}
	s.lastActivity = at
	return e
}

// AppendPayout records a payout entry.
func (s *State) AppendPayout(amount decimal.Decimal, actor string, at time.Time) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Amount: amount.Round(amountPlaces), Actor: actor, At: at}
	s.payouts = append(s.payouts, e)
	if len(s.payouts) > MaxPeriodEntries {
		s.payouts = s.payouts[len(s.payouts)-MaxPeriodEntries:]
	}
	s.lastActivity = at
	return e
}

// SetFixedRate sets the fixed exchange rate and clears any realtime rate;
// the two are never active together.
func (s *State) SetFixedRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rate = rate.Round(ratePlaces)
	s.fixedRate = &rate
	s.realtimeRate = nil
	return nil
}

// SetRealtimeRate sets the realtime exchange rate and clears any fixed rate.
func (s *State) SetRealtimeRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rate = rate.Round(ratePlaces)
	s.realtimeRate = &rate
	s.fixedRate = nil
	return nil
}

// ClearRates removes both rates; USDT figures fall back to zero.
func (s *State) ClearRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixedRate = nil
	s.realtimeRate = nil
}

// FixedRate returns the fixed rate, or nil.
func (s *State) FixedRate() *decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixedRate
}

// RealtimeRate returns the realtime rate, or nil.
func (s *State) RealtimeRate() *decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtimeRate
}

// EffectiveRate returns the rate used for conversion: fixed if present, else
// realtime, else zero.
func (s *State) EffectiveRate() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveRateLocked()
}

func (s *State) effectiveRateLocked() decimal.Decimal {
	if s.fixedRate != nil {
		return *s.fixedRate
	}
	if s.realtimeRate != nil {
		return *s.realtimeRate
	}
	return decimal.Zero
}

// SetFeePercent stores the fee percentage. Values outside [0,100] are a
// validation error and leave the state untouched.
func (s *State) SetFeePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return ErrInvalidFee
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feePercent = p
	return nil
}

// FeePercent returns the configured fee percentage.
func (s *State) FeePercent() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feePercent
}

// AddOperator adds a display name to the authorization allowlist.
func (s *State) AddOperator(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.operators) >= MaxOperators {
		return
	}
	s.operators[name] = struct{}{}
}

// AddOperatorID adds a user id to the authorization allowlist.
func (s *State) AddOperatorID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.operatorIDs) >= MaxOperators {
		return
	}
	s.operatorIDs[id] = struct{}{}
}

// RemoveOperator removes a display name from the allowlist.
func (s *State) RemoveOperator(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.operators, name)
}

// RemoveOperatorID removes a user id from the allowlist.
func (s *State) RemoveOperatorID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.operatorIDs, id)
}

// Operators returns the allowlisted display names.
func (s *State) Operators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.operators))
	for n := range s.operators {
		names = append(names, n)
	}
	return names
}

// OperatorIDs returns the allowlisted user ids.
func (s *State) OperatorIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.operatorIDs))
	for id := range s.operatorIDs {
		ids = append(ids, id)
	}
	return ids
}

// Authorized reports whether the actor may mutate the ledger. An empty
// allowlist authorizes everyone so a fresh conversation can bootstrap itself.
func (s *State) Authorized(name string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.operators) == 0 && len(s.operatorIDs) == 0 {
		return true
	}
	if _, ok := s.operators[name]; ok {
		return true
	}
	_, ok := s.operatorIDs[id]
	return ok
}

// RememberUser caches a username to user id mapping. The cache is bounded on
// every write and cleared by sweeps; it never grows with chat membership.
func (s *State) RememberUser(name string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userIDs[name]; !ok && len(s.userIDs) >= MaxUserLookup {
		for k := range s.userIDs {
			delete(s.userIDs, k)
			break
		}
	}
	s.userIDs[name] = id
}

// LookupUser resolves a cached username.
func (s *State) LookupUser(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.userIDs[name]
	return id, ok
}

// ClearUserLookup drops the transient username cache.
func (s *State) ClearUserLookup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userIDs = make(map[string]int64)
}

// Trim clamps every bounded collection back to its cap, dropping oldest
// entries first. The store calls it on every get so memory stays bounded
// even between sweeps.
func (s *State) Trim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.incomes) > MaxPeriodEntries {
		s.incomes = s.incomes[len(s.incomes)-MaxPeriodEntries:]
	}
	if len(s.payouts) > MaxPeriodEntries {
		s.payouts = s.payouts[len(s.payouts)-MaxPeriodEntries:]
	}
	if len(s.history) > MaxHistory {
		s.history = s.history[len(s.history)-MaxHistory:]
	}
	for len(s.operators) > MaxOperators {
		for k := range s.operators {
			delete(s.operators, k)
			break
		}
	}
	for len(s.operatorIDs) > MaxOperators {
		for k := range s.operatorIDs {
			delete(s.operatorIDs, k)
			break
		}
	}
	for len(s.userIDs) > MaxUserLookup {
		for k := range s.userIDs {
			delete(s.userIDs, k)
			break
		}
	}
}

// Entries returns copies of the open period's income and payout lists.
func (s *State) Entries() (incomes, payouts []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.incomes...), append([]Entry(nil), s.payouts...)
}

// History returns copies of the closed bill snapshots, oldest first.
func (s *State) History() []BillSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BillSnapshot(nil), s.history...)
}

// Summarize recomputes the summary from the entry lists. There is no cached
// aggregate state, so the result is always consistent with what was appended.
func (s *State) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summarizeLocked()
}

func (s *State) summarizeLocked() Summary {
	eff := s.effectiveRateLocked()
	sum := Summary{
		IncomeCount:   len(s.incomes),
		PayoutCount:   len(s.payouts),
		EffectiveRate: eff,
		FeePercent:    s.feePercent,
	}

	totalIncome := decimal.Zero
	totalIncomeUSDT := decimal.Zero
	shouldPayoutUSDT := decimal.Zero
	for _, e := range s.incomes {
		totalIncome = totalIncome.Add(e.Amount).Round(amountPlaces)

		// Conversion is entry-by-entry on each entry's own rate; dividing the
		// aggregate by one rate would misstate mixed-rate periods.
		rate := eff
		if e.Rate != nil {
			rate = *e.Rate
		}
		if !rate.IsPositive() {
			continue
		}
		totalIncomeUSDT = totalIncomeUSDT.Add(e.Amount.Div(rate).Round(amountPlaces)).Round(amountPlaces)
		shouldPayoutUSDT = shouldPayoutUSDT.Add(entryUSDT(e.Amount, rate, e.FeeRate, s.feePercent)).Round(amountPlaces)
	}

	totalPayout := decimal.Zero
	totalPayoutUSDT := decimal.Zero
	for _, e := range s.payouts {
		totalPayout = totalPayout.Add(e.Amount).Round(amountPlaces)
		if eff.IsPositive() {
			totalPayoutUSDT = totalPayoutUSDT.Add(e.Amount.Div(eff).Round(amountPlaces)).Round(amountPlaces)
		}
	}

	fee := totalIncome.Mul(s.feePercent).Div(hundred).Round(amountPlaces)

	sum.TotalIncome = totalIncome
	sum.TotalPayout = totalPayout
	sum.Fee = fee
	sum.ShouldPayout = totalIncome.Sub(fee)
	sum.NotPayout = sum.ShouldPayout.Sub(totalPayout)
	sum.TotalIncomeUSDT = totalIncomeUSDT
	sum.TotalPayoutUSDT = totalPayoutUSDT
	sum.ShouldPayoutUSDT = shouldPayoutUSDT
	sum.NotPayoutUSDT = shouldPayoutUSDT.Sub(totalPayoutUSDT)
	return sum
}

// entryUSDT converts one income amount to USDT: amount times the entry's fee
// multiplier (or the ledger-wide fee percent when absent) divided by the rate.
func entryUSDT(amount, rate decimal.Decimal, feeRate *decimal.Decimal, feePercent decimal.Decimal) decimal.Decimal {
	mult := one.Sub(feePercent.Div(hundred))
	if feeRate != nil {
		mult = *feeRate
	}
	return amount.Mul(mult).Div(rate).Round(amountPlaces)
}

// CloseBill snapshots the open period into history and resets it. The caller
// persists the snapshot; history here is only a bounded in-memory tail.
func (s *State) CloseBill(now time.Time) BillSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := BillSnapshot{
		ClosedAt: now,
		Incomes:  append([]Entry(nil), s.incomes...),
		Payouts:  append([]Entry(nil), s.payouts...),
		Summary:  s.summarizeLocked(),
	}
	s.history = append(s.history, snap)
	if len(s.history) > MaxHistory {
		s.history = s.history[len(s.history)-MaxHistory:]
	}
	s.incomes = nil
	s.payouts = nil
	s.lastActivity = now
	return snap
}
