// Package memstore is an in-memory repository.Store. A unit of work runs on a
// private copy of the data under an exclusive lock and is swapped in only when
// the callback returns nil, so a failed unit leaves no trace.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type optionKey struct {
	eventID  uuid.UUID
	optionID string
}

type data struct {
	users        map[int64]domain.User
	accounts     map[int64]domain.LedgerAccount
	transactions []domain.LedgerTransaction
	events       map[uuid.UUID]domain.Event
	options      map[optionKey]domain.Option
	bets         map[uuid.UUID]domain.Bet
	resolutions  map[uuid.UUID]domain.Resolution // keyed by event id
	charges      map[string]domain.Charge        // keyed by reference
}

func newData() *data {
	return &data{
		users:       make(map[int64]domain.User),
		accounts:    make(map[int64]domain.LedgerAccount),
		events:      make(map[uuid.UUID]domain.Event),
		options:     make(map[optionKey]domain.Option),
		bets:        make(map[uuid.UUID]domain.Bet),
		resolutions: make(map[uuid.UUID]domain.Resolution),
		charges:     make(map[string]domain.Charge),
	}
}

func (d *data) clone() *data {
	c := &data{
		users:        make(map[int64]domain.User, len(d.users)),
		accounts:     make(map[int64]domain.LedgerAccount, len(d.accounts)),
		transactions: append([]domain.LedgerTransaction(nil), d.transactions...),
		events:       make(map[uuid.UUID]domain.Event, len(d.events)),
		options:      make(map[optionKey]domain.Option, len(d.options)),
		bets:         make(map[uuid.UUID]domain.Bet, len(d.bets)),
		resolutions:  make(map[uuid.UUID]domain.Resolution, len(d.resolutions)),
		charges:      make(map[string]domain.Charge, len(d.charges)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.options {
		c.options[k] = v
	}
	for k, v := range d.bets {
		c.bets[k] = v
	}
	for k, v := range d.resolutions {
		c.resolutions[k] = v
	}
	for k, v := range d.charges {
		c.charges[k] = v
	}
	return c
}

// Store implements repository.Store in memory.
type Store struct {
	mu   sync.RWMutex
	data *data
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newData(), now: func() time.Time { return time.Now().UTC() }}
}

// WithTx runs fn against a private copy and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&tx{d: work, now: s.now}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

func (s *Store) ListOptions(_ context.Context, eventID uuid.UUID) ([]*domain.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOptions(s.data, eventID), nil
}

func listOptions(d *data, eventID uuid.UUID) []*domain.Option {
	var out []*domain.Option
	for k, o := range d.options {
		if k.eventID == eventID {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *Store) ListEvents(_ context.Context, f repository.EventFilter) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Event
	for _, e := range s.data.events {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ChatID != 0 && e.ChatID != f.ChatID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, f.Offset), nil
}

func (s *Store) ListDueEvents(_ context.Context, now time.Time) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Event
	for _, e := range s.data.events {
		if e.AutoResolve && e.DueForResolution(now) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolutionDate.Before(out[j].ResolutionDate) })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, userID int64) (*domain.LedgerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.accounts[userID]
	if !ok {
		return domain.EmptyAccount(userID), nil
	}
	return &a, nil
}

func (s *Store) ListTransactions(_ context.Context, userID int64, limit, offset int) ([]*domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.LedgerTransaction
	// Newest first; the slice is append-only so reverse order is creation order.
	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		t := s.data.transactions[i]
		if t.UserID == userID {
			out = append(out, &t)
		}
	}
	return page(out, limit, offset), nil
}

func (s *Store) ListBetsByUser(_ context.Context, userID int64, limit, offset int) ([]*domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterBets(s.data, func(b *domain.Bet) bool { return b.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) ListBetsByEvent(_ context.Context, eventID uuid.UUID) ([]*domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterBets(s.data, func(b *domain.Bet) bool { return b.EventID == eventID }), nil
}

func filterBets(d *data, keep func(*domain.Bet) bool) []*domain.Bet {
	var out []*domain.Bet
	for _, b := range d.bets {
		b := b
		if keep(&b) {
			out = append(out, &b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

func (s *Store) GetResolution(_ context.Context, eventID uuid.UUID) (*domain.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data.resolutions[eventID]
	if !ok {
		return nil, domain.ErrResolutionNotFound
	}
	r.WinningOptionIDs = append([]string{}, r.WinningOptionIDs...)
	return &r, nil
}

func (s *Store) GetCharge(_ context.Context, reference string) (*domain.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.charges[reference]
	if !ok {
		return nil, domain.ErrChargeNotFound
	}
	return &c, nil
}

func (s *Store) ListCharges(_ context.Context, status domain.ChargeStatus, limit, offset int) ([]*domain.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Charge
	for _, c := range s.data.charges {
		if status == "" || c.Status == status {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) ListPendingCharges(_ context.Context, olderThan time.Time) ([]*domain.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Charge
	for _, c := range s.data.charges {
		if c.Status == domain.ChargePending && c.CreatedAt.Before(olderThan) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────────────────────────────────

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, limit, offset int) ([]*domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(s.data.users))
	for _, u := range s.data.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (s *Store) UpsertUser(_ context.Context, u *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.users[u.ID]
	if !ok {
		cur = *u
	} else {
		cur.Username = u.Username
		cur.FirstName = u.FirstName
		cur.LastName = u.LastName
		cur.LanguageCode = u.LanguageCode
		cur.UpdatedAt = u.UpdatedAt
	}
	s.data.users[u.ID] = cur
	return &cur, nil
}

func (s *Store) SetUserActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsActive = active
	u.UpdatedAt = s.now()
	s.data.users[id] = u
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────────────────────────────────

type tx struct {
	d   *data
	now func() time.Time
}

var _ repository.Tx = (*tx)(nil)

func counterAdd(a *domain.LedgerAccount, c domain.Counter, amount decimal.Decimal) {
	switch c {
	case domain.CounterDeposited:
		a.TotalDeposited = a.TotalDeposited.Add(amount)
	case domain.CounterWon:
		a.TotalWon = a.TotalWon.Add(amount)
	case domain.CounterLost:
		a.TotalLost = a.TotalLost.Add(amount)
	case domain.CounterWithdrawn:
		a.TotalWithdrawn = a.TotalWithdrawn.Add(amount)
	}
}

func (t *tx) account(userID int64) domain.LedgerAccount {
	a, ok := t.d.accounts[userID]
	if !ok {
		a = *domain.EmptyAccount(userID)
		a.CreatedAt = t.now()
	}
	return a
}

func (t *tx) CreditAccount(_ context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (decimal.Decimal, decimal.Decimal, error) {
	a := t.account(userID)
	before := a.Balance
	a.Balance = a.Balance.Add(amount)
	counterAdd(&a, counter, amount)
	a.UpdatedAt = t.now()
	t.d.accounts[userID] = a
	return before, a.Balance, nil
}

func (t *tx) DebitAccount(_ context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (decimal.Decimal, decimal.Decimal, error) {
	a, ok := t.d.accounts[userID]
	if !ok || a.Balance.LessThan(amount) {
		bal := decimal.Zero
		if ok {
			bal = a.Balance
		}
		return bal, bal, &domain.InsufficientFundsError{UserID: userID, Balance: bal, Required: amount}
	}
	before := a.Balance
	a.Balance = a.Balance.Sub(amount)
	counterAdd(&a, counter, amount)
	a.UpdatedAt = t.now()
	t.d.accounts[userID] = a
	return before, a.Balance, nil
}

func (t *tx) AddToCounter(_ context.Context, userID int64, counter domain.Counter, amount decimal.Decimal) error {
	a := t.account(userID)
	counterAdd(&a, counter, amount)
	a.UpdatedAt = t.now()
	t.d.accounts[userID] = a
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, lt *domain.LedgerTransaction) error {
	t.d.transactions = append(t.d.transactions, *lt)
	return nil
}

func (t *tx) InsertEvent(_ context.Context, e *domain.Event) error {
	t.d.events[e.ID] = *e
	return nil
}

func (t *tx) InsertOption(_ context.Context, o *domain.Option) error {
	t.d.options[optionKey{o.EventID, o.ID}] = *o
	return nil
}

func (t *tx) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	e, ok := t.d.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

// LockEvent is a plain read: the whole unit of work already holds the lock.
func (t *tx) LockEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *tx) GetOption(_ context.Context, eventID uuid.UUID, optionID string) (*domain.Option, error) {
	o, ok := t.d.options[optionKey{eventID, optionID}]
	if !ok {
		return nil, domain.ErrOptionNotFound
	}
	return &o, nil
}

func (t *tx) IncrementPool(_ context.Context, eventID uuid.UUID, optionID string, stake, commission decimal.Decimal, now time.Time) error {
	e, ok := t.d.events[eventID]
	if !ok || !e.AcceptsBetsAt(now) {
		return domain.ErrEventNotActive
	}
	k := optionKey{eventID, optionID}
	o, ok := t.d.options[k]
	if !ok {
		return domain.ErrOptionNotFound
	}
	e.TotalPool = e.TotalPool.Add(stake.Sub(commission))
	e.CommissionAccrued = e.CommissionAccrued.Add(commission)
	e.UpdatedAt = now
	o.TotalBets++
	o.TotalAmount = o.TotalAmount.Add(stake)
	t.d.events[eventID] = e
	t.d.options[k] = o
	return nil
}

func (t *tx) closeEvent(id uuid.UUID, to domain.EventStatus, now time.Time) error {
	e, ok := t.d.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if !e.IsActive() {
		return domain.ErrAlreadyResolved
	}
	e.Status = to
	e.ResolvedAt = &now
	e.UpdatedAt = now
	t.d.events[id] = e
	return nil
}

func (t *tx) MarkEventResolved(_ context.Context, id uuid.UUID, now time.Time) error {
	return t.closeEvent(id, domain.EventStatusResolved, now)
}

func (t *tx) MarkEventCancelled(_ context.Context, id uuid.UUID, now time.Time) error {
	return t.closeEvent(id, domain.EventStatusCancelled, now)
}

func (t *tx) InsertBet(_ context.Context, b *domain.Bet) error {
	if b.ExternalRef != nil {
		for _, other := range t.d.bets {
			if other.ExternalRef != nil && *other.ExternalRef == *b.ExternalRef {
				return domain.Invalid("external_ref", "duplicate")
			}
		}
	}
	t.d.bets[b.ID] = *b
	return nil
}

func (t *tx) FundBet(_ context.Context, betID uuid.UUID) error {
	b, ok := t.d.bets[betID]
	if !ok || !b.IsActive() || b.Funded {
		return domain.ErrAlreadyResolved
	}
	b.Funded = true
	t.d.bets[betID] = b
	return nil
}

func (t *tx) ActiveBets(_ context.Context, eventID uuid.UUID) ([]*domain.Bet, error) {
	return filterBets(t.d, func(b *domain.Bet) bool {
		return b.EventID == eventID && b.IsActive()
	}), nil
}

func (t *tx) SettleBet(_ context.Context, betID uuid.UUID, status domain.BetStatus, payout *decimal.Decimal, now time.Time) error {
	b, ok := t.d.bets[betID]
	if !ok || !b.IsActive() {
		return domain.ErrAlreadyResolved
	}
	b.Status = status
	if payout != nil {
		p := *payout
		b.Payout = &p
	} else {
		b.Payout = nil
	}
	b.SettledAt = &now
	t.d.bets[betID] = b
	return nil
}

func (t *tx) InsertResolution(_ context.Context, r *domain.Resolution) error {
	if _, exists := t.d.resolutions[r.EventID]; exists {
		return domain.ErrAlreadyResolved
	}
	cp := *r
	cp.WinningOptionIDs = append([]string{}, r.WinningOptionIDs...)
	t.d.resolutions[r.EventID] = cp
	return nil
}

func (t *tx) InsertCharge(_ context.Context, c *domain.Charge) error {
	if _, exists := t.d.charges[c.Reference]; exists {
		return domain.Invalid("reference", "duplicate charge reference")
	}
	t.d.charges[c.Reference] = *c
	return nil
}

func (t *tx) ConfirmCharge(_ context.Context, reference, providerChargeID string, now time.Time) (*domain.Charge, domain.ChargeStatus, error) {
	c, ok := t.d.charges[reference]
	if !ok {
		return nil, "", domain.ErrChargeNotFound
	}
	prev := c.Status
	if !prev.Payable() {
		return &c, prev, domain.ErrChargeNotPending
	}
	c.Status = domain.ChargeConfirmed
	c.ProviderChargeID = &providerChargeID
	c.ConfirmedAt = &now
	t.d.charges[reference] = c
	return &c, prev, nil
}

func (t *tx) SetChargeInvoice(_ context.Context, reference, url string) error {
	c, ok := t.d.charges[reference]
	if !ok {
		return domain.ErrChargeNotFound
	}
	c.InvoiceURL = url
	t.d.charges[reference] = c
	return nil
}

func (t *tx) UpdateChargeStatus(_ context.Context, reference string, from, to domain.ChargeStatus) error {
	c, ok := t.d.charges[reference]
	if !ok {
		return domain.ErrChargeNotFound
	}
	if c.Status != from {
		return domain.ErrChargeNotPending
	}
	c.Status = to
	t.d.charges[reference] = c
	return nil
}
