package fees

import (
	"testing"

	"github.com/oranchan/Meme/internal/domain"
)

func TestForContext_Rates(t *testing.T) {
	tests := []struct {
		name   string
		amount domain.Units
		ctx    domain.Context
		want   domain.Units
	}{
		{"Buy 5%", 9000, domain.CtxBuy, 450},
		{"Sell 8%", 1000, domain.CtxSell, 80},
		{"Transfer 2%", 1000, domain.CtxPeerTransfer, 20},
		{"Buy floors", 99, domain.CtxBuy, 4},
		{"Sell floors", 99, domain.CtxSell, 7},
		{"Transfer floors", 49, domain.CtxPeerTransfer, 0},
		{"MintOrBurn free", 1000, domain.CtxMintOrBurn, 0},
		{"Exempt free", 1000, domain.CtxExempt, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForContext(tt.amount, tt.ctx); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAllocate_Shares(t *testing.T) {
	a := NewAllocator()

	got := a.Allocate(1000)
	want := Buckets{Marketing: 400, Liquidity: 300, Development: 200, Burn: 100}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// Totals are cumulative
	got = a.Allocate(1000)
	if got.Marketing != 800 || got.Burn != 200 {
		t.Errorf("expected cumulative totals, got %+v", got)
	}
}

func TestAllocate_RoundingDriftBound(t *testing.T) {
	a := NewAllocator()

	// Awkward fee amounts: each bucket floors independently, so each
	// allocation may lose up to 3 units in total.
	feeTotal := int64(0)
	n := 0
	for fee := domain.Units(1); fee <= 997; fee += 7 {
		a.Allocate(fee)
		feeTotal += int64(fee)
		n++
	}

	sum := int64(a.Totals().Sum())
	if sum > feeTotal {
		t.Errorf("buckets exceed allocated fees: %d > %d", sum, feeTotal)
	}
	if feeTotal-sum >= int64(4*n) {
		t.Errorf("rounding shortfall %d out of bound for %d allocations", feeTotal-sum, n)
	}
}

func TestAllocate_Monotonic(t *testing.T) {
	a := NewAllocator()

	prev := a.Totals()
	for _, fee := range []domain.Units{0, 1, 9, 10, 100, 3} {
		cur := a.Allocate(fee)
		if cur.Marketing < prev.Marketing || cur.Liquidity < prev.Liquidity ||
			cur.Development < prev.Development || cur.Burn < prev.Burn {
			t.Fatalf("bucket decreased: %+v -> %+v", prev, cur)
		}
		prev = cur
	}
}

func TestRestore(t *testing.T) {
	a := NewAllocator()
	a.Allocate(1000)

	a.Restore(Buckets{Marketing: 1, Liquidity: 2, Development: 3, Burn: 4})
	got := a.Totals()
	if got.Marketing != 1 || got.Liquidity != 2 || got.Development != 3 || got.Burn != 4 {
		t.Errorf("restore mismatch: %+v", got)
	}
}
