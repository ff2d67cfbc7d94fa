// Package ledger implements the reservation (escrow) money model chosen for
// the auction engine's Open Question (see SPEC_FULL.md §3): a winning bid
// reserves funds immediately; a later higher bid releases the prior
// reservation before creating its own; a timed close converts the winner's
// reservation into a real debit and credits the seller (Settle); a buy-now
// releases any outstanding high-bid reservation and transfers the buy-now
// price from the buyer's available balance to the seller (DebitCredit). It
// is adapted from the teacher's Redis-backed publisher ledger
// (backend/payments/internal/ledger/double_entry.go) into an in-process,
// mutex-guarded ledger over *domain.User records, since this system has no
// external money store (spec Non-goals exclude real payment settlement).
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rivalapexmediation/auctionhouse/internal/domain"
)

// Ledger guards reservation/debit/credit operations against a domain store.
// It does not own the users — it mutates domain.User records in place under
// its own lock, which callers must take in addition to (never instead of)
// the store's data lock when a caller also needs store-wide consistency.
type Ledger struct {
	mu sync.Mutex
}

// New creates a ledger.
func New() *Ledger { return &Ledger{} }

// Reserve holds amount against user u's available balance. It fails if the
// user does not have at least amount available (spec §4.5 rule 4).
func (l *Ledger) Reserve(u *domain.User, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u.Available().LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	u.Reserved = u.Reserved.Add(amount)
	return nil
}

// Release returns a previously reserved amount to user u's available
// balance, e.g. when a higher bid supersedes this one.
func (l *Ledger) Release(u *domain.User, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u.Reserved = u.Reserved.Sub(amount)
	if u.Reserved.IsNegative() {
		u.Reserved = decimal.Zero
	}
}

// Settle converts buyer's reservation of amount into a real debit and
// credits seller by the same amount. Used at timed (or room-forced) auction
// close for the winning bid; buy-now uses DebitCredit instead.
func (l *Ledger) Settle(buyer, seller *domain.User, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if buyer.Reserved.LessThan(amount) {
		return fmt.Errorf("settle: reserved amount %s less than settlement amount %s", buyer.Reserved, amount)
	}
	buyer.Reserved = buyer.Reserved.Sub(amount)
	buyer.Balance = buyer.Balance.Sub(amount)
	seller.Balance = seller.Balance.Add(amount)
	return nil
}

// DebitCredit performs an unreserved transfer, used by BUY_NOW where the
// amount was never separately reserved (spec §4.5's buy-now path debits and
// credits atomically in one step).
func (l *Ledger) DebitCredit(buyer, seller *domain.User, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if buyer.Available().LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	buyer.Balance = buyer.Balance.Sub(amount)
	seller.Balance = seller.Balance.Add(amount)
	return nil
}
