package ledger

import (
	"github.com/oranchan/Meme/internal/domain"
)

// Txn is a compensating-action transaction over the Book. Each successful
// Move records its inverse; Rollback replays the inverses in reverse order,
// leaving the ledger as if the transaction never started. Commit discards
// them. Non-ledger state (fee buckets, counters) can hook into the same
// rollback via OnRollback.
//
// Txn is not safe for concurrent use; the engine serializes operations.
type Txn struct {
	book *Book
	undo []func()
	done bool
}

// Begin starts a new transaction on the book.
func (b *Book) Begin() *Txn {
	return &Txn{book: b}
}

// Move applies a movement and records its compensation. The inverse of a
// mint is a burn and vice versa, so Move(to, from, amount) undoes every case.
func (t *Txn) Move(from, to domain.Address, amount domain.Units) error {
	if err := t.book.Move(from, to, amount); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		if err := t.book.Move(to, from, amount); err != nil {
			// The inverse of an applied movement cannot fail: the credited
			// side holds at least the amount just moved.
			panic("LEDGER_ROLLBACK_FAILED: " + err.Error())
		}
	})
	return nil
}

// OnRollback registers a compensation for state outside the book.
func (t *Txn) OnRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// Rollback unwinds all recorded actions, most recent first.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// Commit finalizes the transaction; recorded compensations are dropped.
func (t *Txn) Commit() {
	t.done = true
	t.undo = nil
}
