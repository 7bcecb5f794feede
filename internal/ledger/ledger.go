package ledger

import (
	"sync"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/pkg/safe"
)

// Adapter is the balance-ledger contract the engine depends on.
type Adapter interface {
	BalanceOf(acct domain.Address) domain.Units
	Move(from, to domain.Address, amount domain.Units) error
	TotalSupply() domain.Units
}

// Book is the in-memory balance ledger. The engine's hotpath is the single
// writer; the RWMutex exists only for external reads (inspection, snapshots).
type Book struct {
	mu       sync.RWMutex
	balances map[domain.Address]domain.Units
	supply   domain.Units
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{balances: make(map[domain.Address]domain.Units)}
}

// BalanceOf returns the current balance of acct. Unknown accounts hold zero.
func (b *Book) BalanceOf(acct domain.Address) domain.Units {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[acct]
}

// TotalSupply returns the number of units currently in circulation.
func (b *Book) TotalSupply() domain.Units {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.supply
}

// Move performs an atomic debit+credit. A move from the null account mints
// (raising supply), a move to the null account burns (lowering it).
// Fails if the source balance cannot cover the amount.
func (b *Book) Move(from, to domain.Address, amount domain.Units) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveLocked(from, to, amount)
}

func (b *Book) moveLocked(from, to domain.Address, amount domain.Units) error {
	if amount < 0 {
		return domain.ErrNegativeAmount
	}

	switch {
	case from.IsZero():
		// Mint
		b.balances[to] = domain.Units(safe.Add(int64(b.balances[to]), int64(amount)))
		b.supply = domain.Units(safe.Add(int64(b.supply), int64(amount)))
	case to.IsZero():
		// Burn
		if b.balances[from] < amount {
			return domain.ErrInsufficientBalance
		}
		b.balances[from] -= amount
		b.supply = domain.Units(safe.Sub(int64(b.supply), int64(amount)))
	default:
		if b.balances[from] < amount {
			return domain.ErrInsufficientBalance
		}
		b.balances[from] -= amount
		b.balances[to] = domain.Units(safe.Add(int64(b.balances[to]), int64(amount)))
	}
	return nil
}

// Snapshot returns a copy of all non-zero balances (external read).
func (b *Book) Snapshot() map[domain.Address]domain.Units {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[domain.Address]domain.Units, len(b.balances))
	for acct, bal := range b.balances {
		if bal != 0 {
			out[acct] = bal
		}
	}
	return out
}

// Restore replaces the ledger contents from a snapshot.
func (b *Book) Restore(balances map[domain.Address]domain.Units, supply domain.Units) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances = make(map[domain.Address]domain.Units, len(balances))
	for acct, bal := range balances {
		b.balances[acct] = bal
	}
	b.supply = supply
}

// VerifyConservation panics if the sum of balances drifts from total supply.
// Called from tests and snapshot creation as a cheap ledger invariant.
func (b *Book) VerifyConservation() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sum int64
	for _, bal := range b.balances {
		if bal < 0 {
			panic("LEDGER_NEGATIVE_BALANCE")
		}
		sum = safe.Add(sum, int64(bal))
	}
	if sum != int64(b.supply) {
		panic("LEDGER_CONSERVATION_VIOLATED")
	}
}
