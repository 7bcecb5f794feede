package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/infra"
	"github.com/oranchan/Meme/internal/ledger"
	"github.com/oranchan/Meme/internal/limiter"
	"github.com/oranchan/Meme/internal/registry"
	"github.com/oranchan/Meme/internal/storage"
)

// Orchestrator is the core transfer state machine. Every transfer is
// classified, checked, split into a net movement plus a fee movement, and
// applied as one indivisible unit of work: any failing check unwinds every
// mutation already made within the same call.
type Orchestrator struct {
	// opMu guards the whole unit of work. The surrounding callers are
	// expected to be serial already; the lock makes the guarantee local.
	opMu sync.Mutex

	book     *ledger.Book
	registry *registry.Registry
	limiter  *limiter.RateWindowLimiter
	alloc    *fees.Allocator

	feeCollector domain.Address
	journal      *storage.Journal

	// Boundary: notifies the inspection stream of applied transfers.
	onApplied func(domain.Receipt)

	// mu is used only for external reads (lastFee, applied count).
	mu      sync.RWMutex
	lastFee domain.Units
	applied uint64

	now func() int64
}

// NewOrchestrator wires the engine. journal and onApplied may be nil.
func NewOrchestrator(
	book *ledger.Book,
	reg *registry.Registry,
	lim *limiter.RateWindowLimiter,
	alloc *fees.Allocator,
	feeCollector domain.Address,
	journal *storage.Journal,
	onApplied func(domain.Receipt),
) *Orchestrator {
	return &Orchestrator{
		book:         book,
		registry:     reg,
		limiter:      lim,
		alloc:        alloc,
		feeCollector: feeCollector,
		journal:      journal,
		onApplied:    onApplied,
		now:          func() int64 { return time.Now().Unix() },
	}
}

// SetOnApplied wires the applied-transfer callback. Call before the first
// Transfer; the engine does not synchronize hook replacement.
func (o *Orchestrator) SetOnApplied(fn func(domain.Receipt)) {
	o.onApplied = fn
}

// Classify derives the transfer context from the endpoints. The order of
// the checks is fixed: null account beats exemption beats venue membership,
// and a source venue beats a destination venue.
func (o *Orchestrator) Classify(from, to domain.Address) domain.Context {
	switch {
	case from.IsZero() || to.IsZero():
		return domain.CtxMintOrBurn
	case o.registry.IsExempt(from) || o.registry.IsExempt(to):
		return domain.CtxExempt
	case o.registry.IsMarketVenue(from):
		return domain.CtxBuy
	case o.registry.IsMarketVenue(to):
		return domain.CtxSell
	default:
		return domain.CtxPeerTransfer
	}
}

// Transfer authorizes and applies one transfer. On failure the ledger, the
// fee buckets, and the rate windows are left exactly as they were.
func (o *Orchestrator) Transfer(ctx context.Context, req domain.Request) (domain.Receipt, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}

	tctx := o.Classify(req.From, req.To)
	txn := o.book.Begin()

	fee, err := o.apply(txn, tctx, req)
	if err != nil {
		txn.Rollback()
		infra.ObserveRejection(err)
		slog.Debug("transfer rejected",
			slog.String("id", req.ID.String()),
			slog.String("context", tctx.String()),
			slog.Any("reason", err))
		return domain.Receipt{}, err
	}
	txn.Commit()

	o.mu.Lock()
	if tctx != domain.CtxMintOrBurn && tctx != domain.CtxExempt {
		o.lastFee = fee
	}
	o.applied++
	seq := o.applied
	o.mu.Unlock()

	rcpt := domain.Receipt{
		ID:      req.ID,
		Seq:     seq,
		From:    req.From,
		To:      req.To,
		Context: tctx,
		Amount:  req.Amount,
		Fee:     fee,
		Net:     req.Amount - fee,
		TsUnix:  o.now(),
	}

	o.record(ctx, rcpt)
	return rcpt, nil
}

// apply runs the per-context check sequence and movements inside txn.
// The check order within each context is externally observable: the first
// failing check determines the reported failure.
func (o *Orchestrator) apply(txn *ledger.Txn, tctx domain.Context, req domain.Request) (domain.Units, error) {
	switch tctx {
	case domain.CtxMintOrBurn, domain.CtxExempt:
		// Full amount moves unchanged; no limiter or fee logic.
		return 0, txn.Move(req.From, req.To, req.Amount)

	case domain.CtxBuy:
		if !o.limiter.IsTradeAllowed(req.Amount) {
			return 0, domain.ErrTradeTooLarge
		}
		if !o.limiter.IsBalanceBelowThreshold(req.To) {
			return 0, domain.ErrRecipientAboveThreshold
		}
		if !o.limiter.CanTrade(req.To) {
			return 0, domain.ErrRecipientRateLimited
		}
		fee, err := o.moveWithFee(txn, tctx, req)
		if err != nil {
			return 0, err
		}
		if !o.limiter.IsBalanceBelowThreshold(req.To) {
			return 0, domain.ErrRecipientAboveThresholdAfterCredit
		}
		o.limiter.RecordTrade(req.To)
		return fee, nil

	case domain.CtxSell:
		if !o.limiter.IsTradeAllowed(req.Amount) {
			return 0, domain.ErrTradeTooLarge
		}
		if !o.limiter.CanTrade(req.From) {
			return 0, domain.ErrSenderRateLimited
		}
		fee, err := o.moveWithFee(txn, tctx, req)
		if err != nil {
			return 0, err
		}
		o.limiter.RecordTrade(req.From)
		return fee, nil

	case domain.CtxPeerTransfer:
		if !o.limiter.IsTradeAllowed(req.Amount) {
			return 0, domain.ErrTradeTooLarge
		}
		if !o.limiter.IsBalanceBelowThreshold(req.To) {
			return 0, domain.ErrRecipientAboveThreshold
		}
		if !o.limiter.CanTrade(req.From) {
			return 0, domain.ErrSenderRateLimited
		}
		if !o.limiter.CanTrade(req.To) {
			return 0, domain.ErrRecipientRateLimited
		}
		fee, err := o.moveWithFee(txn, tctx, req)
		if err != nil {
			return 0, err
		}
		if !o.limiter.IsBalanceBelowThreshold(req.To) {
			return 0, domain.ErrRecipientAboveThresholdAfterCredit
		}
		o.limiter.RecordTrade(req.From)
		o.limiter.RecordTrade(req.To)
		return fee, nil

	default:
		panic("ENGINE_UNKNOWN_CONTEXT")
	}
}

// moveWithFee applies the net credit, then the fee movement and allocation.
// The bucket update rolls back with the rest of the transaction.
func (o *Orchestrator) moveWithFee(txn *ledger.Txn, tctx domain.Context, req domain.Request) (domain.Units, error) {
	fee := fees.ForContext(req.Amount, tctx)
	net := req.Amount - fee

	if err := txn.Move(req.From, req.To, net); err != nil {
		return 0, err
	}
	if fee > 0 {
		if err := txn.Move(req.From, o.feeCollector, fee); err != nil {
			return 0, err
		}
		prev := o.alloc.Totals()
		o.alloc.Allocate(fee)
		txn.OnRollback(func() { o.alloc.Restore(prev) })
	}
	return fee, nil
}

// record journals the applied transfer and publishes observability state.
// The in-memory state is the authority; a journal failure is logged, not
// unwound.
func (o *Orchestrator) record(ctx context.Context, rcpt domain.Receipt) {
	if o.journal != nil {
		if err := o.journal.SaveTransfer(ctx, rcpt); err != nil {
			slog.Error("journal write failed", slog.String("id", rcpt.ID.String()), slog.Any("error", err))
		}
		if err := o.journal.SaveFeeState(ctx, o.alloc.Totals(), o.LastFee(), rcpt.TsUnix); err != nil {
			slog.Error("fee state write failed", slog.Any("error", err))
		}
	}

	infra.ObserveTransfer(rcpt.Context, rcpt.Fee)
	infra.SetBuckets(o.alloc.Totals())
	infra.SetSupply(o.book.TotalSupply())

	if o.onApplied != nil {
		o.onApplied(rcpt)
	}
}

// LastFee returns the most recent non-exempt fee computation (external read).
func (o *Orchestrator) LastFee() domain.Units {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastFee
}

// AppliedCount returns how many transfers have been applied (external read).
func (o *Orchestrator) AppliedCount() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.applied
}

// RestoreCounters reinstates lastFee and the applied count after recovery.
func (o *Orchestrator) RestoreCounters(lastFee domain.Units, applied uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastFee = lastFee
	o.applied = applied
}

// StateCapture is a point-in-time copy of everything a snapshot persists.
type StateCapture struct {
	Seq      uint64
	TsUnix   int64
	Supply   domain.Units
	Balances map[domain.Address]domain.Units
	Windows  map[domain.Address]limiter.WindowState
	Buckets  fees.Buckets
	LastFee  domain.Units
}

// Capture copies the full engine state under the operation lock, so the
// result never straddles an in-flight transfer. Must not be called from
// within an onApplied hook.
func (o *Orchestrator) Capture() StateCapture {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.RLock()
	seq := o.applied
	lastFee := o.lastFee
	o.mu.RUnlock()

	return StateCapture{
		Seq:      seq,
		TsUnix:   o.now(),
		Supply:   o.book.TotalSupply(),
		Balances: o.book.Snapshot(),
		Windows:  o.limiter.Snapshot(),
		Buckets:  o.alloc.Totals(),
		LastFee:  lastFee,
	}
}
