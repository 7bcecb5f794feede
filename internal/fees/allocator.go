// Package fees computes context-dependent transfer fees and accumulates the
// collected amounts into four proportional buckets. The buckets are tracked
// state only; distributing the recorded value is an external concern.
package fees

import (
	"sync"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/pkg/safe"
)

// Fee rates per context, in percent of the transfer amount.
const (
	BuyFeePct      = 5
	SellFeePct     = 8
	TransferFeePct = 2
)

// Bucket shares, in percent of each allocated fee. Each share floors
// independently, so up to 3 units per allocation are lost to rounding.
const (
	MarketingSharePct   = 40
	LiquiditySharePct   = 30
	DevelopmentSharePct = 20
	BurnSharePct        = 10
)

// ForContext returns the fee for a transfer of amount in the given context.
// Contexts without a fee rate (mint/burn, exempt) pay zero.
func ForContext(amount domain.Units, ctx domain.Context) domain.Units {
	var pct int64
	switch ctx {
	case domain.CtxBuy:
		pct = BuyFeePct
	case domain.CtxSell:
		pct = SellFeePct
	case domain.CtxPeerTransfer:
		pct = TransferFeePct
	default:
		return 0
	}
	return domain.Units(safe.MulDiv(int64(amount), pct, 100))
}

// Buckets are the four monotonically increasing fee accumulators.
type Buckets struct {
	Marketing   domain.Units `json:"marketing"`
	Liquidity   domain.Units `json:"liquidity"`
	Development domain.Units `json:"development"`
	Burn        domain.Units `json:"burn"`
}

// Sum returns the total recorded across all buckets.
func (b Buckets) Sum() domain.Units {
	s := safe.Add(int64(b.Marketing), int64(b.Liquidity))
	s = safe.Add(s, int64(b.Development))
	s = safe.Add(s, int64(b.Burn))
	return domain.Units(s)
}

// Allocator owns the bucket totals. The engine's hotpath is the single
// writer; the RWMutex exists only for external reads.
type Allocator struct {
	mu      sync.RWMutex
	buckets Buckets
}

// NewAllocator creates an allocator with zeroed buckets.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate splits feeAmount across the four buckets at 40/30/20/10, each
// share floored independently, and returns the updated cumulative totals.
func (a *Allocator) Allocate(feeAmount domain.Units) Buckets {
	a.mu.Lock()
	defer a.mu.Unlock()

	fee := int64(feeAmount)
	a.buckets.Marketing = domain.Units(safe.Add(int64(a.buckets.Marketing), safe.MulDiv(fee, MarketingSharePct, 100)))
	a.buckets.Liquidity = domain.Units(safe.Add(int64(a.buckets.Liquidity), safe.MulDiv(fee, LiquiditySharePct, 100)))
	a.buckets.Development = domain.Units(safe.Add(int64(a.buckets.Development), safe.MulDiv(fee, DevelopmentSharePct, 100)))
	a.buckets.Burn = domain.Units(safe.Add(int64(a.buckets.Burn), safe.MulDiv(fee, BurnSharePct, 100)))
	return a.buckets
}

// Totals returns the current cumulative bucket totals (external read).
func (a *Allocator) Totals() Buckets {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buckets
}

// Restore replaces the bucket totals, used by rollback and recovery.
func (a *Allocator) Restore(b Buckets) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets = b
}
