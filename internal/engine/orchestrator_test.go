package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/ledger"
	"github.com/oranchan/Meme/internal/limiter"
	"github.com/oranchan/Meme/internal/registry"
)

const (
	owner     = domain.Address("owner")
	treasury  = domain.Address("treasury")
	dex       = domain.Address("dex")
	team      = domain.Address("team")
	collector = domain.Address("fee_collector")
	alice     = domain.Address("alice")
	bob       = domain.Address("bob")
)

type fixture struct {
	book  *ledger.Book
	reg   *registry.Registry
	lim   *limiter.RateWindowLimiter
	alloc *fees.Allocator
	orch  *Orchestrator
	clock int64
}

// newFixture builds an engine over a 1,000,000-unit supply, so the static
// caps are 10,000 per trade and 20,000 per wallet. The supply is minted to
// the treasury through the engine's own mint path.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		book:  ledger.NewBook(),
		reg:   registry.New(owner),
		alloc: fees.NewAllocator(),
	}
	f.lim = limiter.NewWithClock(
		limiter.LimitsFromSupply(1_000_000),
		f.book,
		func() int64 { return f.clock },
	)
	f.orch = NewOrchestrator(f.book, f.reg, f.lim, f.alloc, collector, nil, nil)

	if err := f.reg.SetMarketVenue(owner, dex, true); err != nil {
		t.Fatalf("SetMarketVenue failed: %v", err)
	}
	if err := f.reg.SetExempt(owner, team, true); err != nil {
		t.Fatalf("SetExempt failed: %v", err)
	}

	f.mint(t, treasury, 1_000_000)
	return f
}

func (f *fixture) mint(t *testing.T, to domain.Address, amount domain.Units) {
	t.Helper()
	if _, err := f.orch.Transfer(context.Background(), domain.NewRequest(domain.ZeroAddress, to, amount)); err != nil {
		t.Fatalf("mint to %s failed: %v", to, err)
	}
}

func (f *fixture) transfer(from, to domain.Address, amount domain.Units) (domain.Receipt, error) {
	return f.orch.Transfer(context.Background(), domain.NewRequest(from, to, amount))
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		from domain.Address
		to   domain.Address
		want domain.Context
	}{
		{"Mint", domain.ZeroAddress, alice, domain.CtxMintOrBurn},
		{"Burn", alice, domain.ZeroAddress, domain.CtxMintOrBurn},
		{"Exempt sender", team, alice, domain.CtxExempt},
		{"Exempt recipient", alice, team, domain.CtxExempt},
		{"Exempt beats venue", team, dex, domain.CtxExempt},
		{"Buy", dex, alice, domain.CtxBuy},
		{"Sell", alice, dex, domain.CtxSell},
		{"Peer", alice, bob, domain.CtxPeerTransfer},
		{"Null beats exempt", domain.ZeroAddress, team, domain.CtxMintOrBurn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.orch.Classify(tt.from, tt.to); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuy_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.mint(t, dex, 100_000)

	rcpt, err := f.transfer(dex, alice, 9000)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if rcpt.Fee != 450 {
		t.Errorf("expected fee 450, got %d", rcpt.Fee)
	}
	if rcpt.Net != 8550 {
		t.Errorf("expected net 8550, got %d", rcpt.Net)
	}
	if bal := f.book.BalanceOf(alice); bal != 8550 {
		t.Errorf("expected alice balance 8550, got %d", bal)
	}
	// Source is debited the full amount
	if bal := f.book.BalanceOf(dex); bal != 100_000-9000 {
		t.Errorf("expected dex balance %d, got %d", 100_000-9000, bal)
	}
	if bal := f.book.BalanceOf(collector); bal != 450 {
		t.Errorf("expected collector balance 450, got %d", bal)
	}
	if w := f.lim.WindowOf(alice); w.Count != 1 {
		t.Errorf("expected alice window count 1, got %d", w.Count)
	}
	// Seller window untouched on a buy
	if w := f.lim.WindowOf(dex); w.Count != 0 {
		t.Errorf("expected dex window count 0, got %d", w.Count)
	}

	buckets := f.alloc.Totals()
	want := fees.Buckets{Marketing: 180, Liquidity: 135, Development: 90, Burn: 45}
	if buckets != want {
		t.Errorf("buckets mismatch: got %+v, want %+v", buckets, want)
	}
	if f.orch.LastFee() != 450 {
		t.Errorf("expected last fee 450, got %d", f.orch.LastFee())
	}
	f.book.VerifyConservation()
}

func TestSell_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 10_000)

	rcpt, err := f.transfer(alice, dex, 1000)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if rcpt.Fee != 80 {
		t.Errorf("expected fee 80, got %d", rcpt.Fee)
	}
	if bal := f.book.BalanceOf(dex); bal != 920 {
		t.Errorf("expected dex balance 920, got %d", bal)
	}
	if bal := f.book.BalanceOf(alice); bal != 9000 {
		t.Errorf("expected alice balance 9000, got %d", bal)
	}
	if w := f.lim.WindowOf(alice); w.Count != 1 {
		t.Errorf("expected seller window count 1, got %d", w.Count)
	}
	if w := f.lim.WindowOf(dex); w.Count != 0 {
		t.Errorf("expected venue window count 0, got %d", w.Count)
	}
}

func TestSell_NoThresholdCheckOnVenue(t *testing.T) {
	f := newFixture(t)
	// Venue already far above the wallet cap
	f.mint(t, dex, 500_000)
	f.mint(t, alice, 10_000)

	if _, err := f.transfer(alice, dex, 1000); err != nil {
		t.Fatalf("sell to over-cap venue must succeed: %v", err)
	}
}

func TestPeerTransfer_Fee(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 10_000)

	rcpt, err := f.transfer(alice, bob, 1000)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if rcpt.Fee != 20 {
		t.Errorf("expected fee 20, got %d", rcpt.Fee)
	}
	if bal := f.book.BalanceOf(bob); bal != 980 {
		t.Errorf("expected bob balance 980, got %d", bal)
	}
	// Both windows recorded
	if w := f.lim.WindowOf(alice); w.Count != 1 {
		t.Errorf("expected alice count 1, got %d", w.Count)
	}
	if w := f.lim.WindowOf(bob); w.Count != 1 {
		t.Errorf("expected bob count 1, got %d", w.Count)
	}
}

func TestCheckOrder_TradeSizeFirst(t *testing.T) {
	f := newFixture(t)
	f.mint(t, dex, 100_000)
	// Recipient already at the wallet cap AND the amount is oversized:
	// the size check must be the reported failure in every context.
	f.mint(t, alice, 20_000)

	if _, err := f.transfer(dex, alice, 10_001); !errors.Is(err, domain.ErrTradeTooLarge) {
		t.Errorf("buy: expected ErrTradeTooLarge, got %v", err)
	}
	if _, err := f.transfer(alice, dex, 10_001); !errors.Is(err, domain.ErrTradeTooLarge) {
		t.Errorf("sell: expected ErrTradeTooLarge, got %v", err)
	}
	if _, err := f.transfer(bob, alice, 10_001); !errors.Is(err, domain.ErrTradeTooLarge) {
		t.Errorf("peer: expected ErrTradeTooLarge, got %v", err)
	}
}

func TestBuy_RecipientAtCapRejected(t *testing.T) {
	f := newFixture(t)
	f.mint(t, dex, 100_000)
	f.mint(t, alice, 20_000)

	_, err := f.transfer(dex, alice, 1000)
	if !errors.Is(err, domain.ErrRecipientAboveThreshold) {
		t.Fatalf("expected ErrRecipientAboveThreshold, got %v", err)
	}
	// No side effects
	if bal := f.book.BalanceOf(alice); bal != 20_000 {
		t.Errorf("balance changed on rejected buy: %d", bal)
	}
	if w := f.lim.WindowOf(alice); w.Count != 0 {
		t.Errorf("window mutated on rejected buy: %+v", w)
	}
}

func TestBuy_PostconditionRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.mint(t, dex, 100_000)
	// Below the cap before the credit, above it after: pre-check passes,
	// post-check must abort and unwind the movements already applied.
	f.mint(t, alice, 19_999)

	bucketsBefore := f.alloc.Totals()

	_, err := f.transfer(dex, alice, 9000)
	if !errors.Is(err, domain.ErrRecipientAboveThresholdAfterCredit) {
		t.Fatalf("expected ErrRecipientAboveThresholdAfterCredit, got %v", err)
	}

	if bal := f.book.BalanceOf(alice); bal != 19_999 {
		t.Errorf("expected alice restored to 19999, got %d", bal)
	}
	if bal := f.book.BalanceOf(dex); bal != 100_000 {
		t.Errorf("expected dex restored to 100000, got %d", bal)
	}
	if bal := f.book.BalanceOf(collector); bal != 0 {
		t.Errorf("expected collector restored to 0, got %d", bal)
	}
	if got := f.alloc.Totals(); got != bucketsBefore {
		t.Errorf("expected buckets restored: got %+v, want %+v", got, bucketsBefore)
	}
	if w := f.lim.WindowOf(alice); w.Count != 0 {
		t.Errorf("expected no trade recorded, got count %d", w.Count)
	}
	f.book.VerifyConservation()
}

func TestPeerTransfer_RateLimitAfter20(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 1000)

	// 20 one-unit transfers inside a single window all succeed.
	for i := 0; i < 20; i++ {
		if _, err := f.transfer(alice, bob, 1); err != nil {
			t.Fatalf("transfer %d failed: %v", i+1, err)
		}
	}

	aliceBefore := f.book.BalanceOf(alice)
	bobBefore := f.book.BalanceOf(bob)

	// The 21st within the same window is rejected; the sender is checked
	// first, so its limit is the one reported.
	_, err := f.transfer(alice, bob, 1)
	if !errors.Is(err, domain.ErrSenderRateLimited) {
		t.Fatalf("expected ErrSenderRateLimited, got %v", err)
	}
	if f.book.BalanceOf(alice) != aliceBefore || f.book.BalanceOf(bob) != bobBefore {
		t.Errorf("balances moved on rejected transfer")
	}

	// After a full window with no trades, both are eligible again.
	f.clock += limiter.WindowSeconds
	if _, err := f.transfer(alice, bob, 1); err != nil {
		t.Fatalf("transfer after window expiry failed: %v", err)
	}
	if w := f.lim.WindowOf(alice); w.Count != 1 {
		t.Errorf("expected count reset to 1, got %d", w.Count)
	}
}

func TestPeerTransfer_RecipientLimitReported(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 1000)
	f.mint(t, bob, 1000)

	// Exhaust only bob via sells (sell records the seller).
	for i := 0; i < 20; i++ {
		if _, err := f.transfer(bob, dex, 1); err != nil {
			t.Fatalf("sell %d failed: %v", i+1, err)
		}
	}

	_, err := f.transfer(alice, bob, 1)
	if !errors.Is(err, domain.ErrRecipientRateLimited) {
		t.Errorf("expected ErrRecipientRateLimited, got %v", err)
	}
}

func TestExempt_NoFeeNoLimiter(t *testing.T) {
	f := newFixture(t)
	f.mint(t, team, 100_000)

	// Far above the trade cap, and the recipient ends far above the wallet
	// cap: exempt transfers skip every check and pay no fee.
	rcpt, err := f.transfer(team, alice, 50_000)
	if err != nil {
		t.Fatalf("exempt transfer failed: %v", err)
	}
	if rcpt.Fee != 0 {
		t.Errorf("expected fee 0, got %d", rcpt.Fee)
	}
	if bal := f.book.BalanceOf(alice); bal != 50_000 {
		t.Errorf("expected alice balance 50000, got %d", bal)
	}
	if w := f.lim.WindowOf(team); w.Count != 0 {
		t.Errorf("exempt transfer mutated sender window: %+v", w)
	}
	if w := f.lim.WindowOf(alice); w.Count != 0 {
		t.Errorf("exempt transfer mutated recipient window: %+v", w)
	}
	if f.orch.LastFee() != 0 {
		t.Errorf("exempt transfer updated last fee: %d", f.orch.LastFee())
	}
}

func TestMint_BypassesAllChecks(t *testing.T) {
	f := newFixture(t)
	// Recipient already above the wallet cap
	f.mint(t, alice, 30_000)

	// Minting again still succeeds: no fee, no limiter checks.
	rcpt, err := f.transfer(domain.ZeroAddress, alice, 50_000)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if rcpt.Fee != 0 {
		t.Errorf("expected fee 0, got %d", rcpt.Fee)
	}
	if bal := f.book.BalanceOf(alice); bal != 80_000 {
		t.Errorf("expected alice balance 80000, got %d", bal)
	}
	if w := f.lim.WindowOf(alice); w.Count != 0 {
		t.Errorf("mint mutated window state: %+v", w)
	}
}

func TestStaticLimits_NotRecomputedOnMint(t *testing.T) {
	f := newFixture(t)
	// Supply doubles after construction; the caps must not move.
	f.mint(t, treasury, 1_000_000)

	if f.lim.Limits().MaxTradeAmount != 10_000 {
		t.Errorf("max trade recomputed: %d", f.lim.Limits().MaxTradeAmount)
	}
	if _, err := f.transfer(alice, bob, 10_001); !errors.Is(err, domain.ErrTradeTooLarge) {
		t.Errorf("expected ErrTradeTooLarge under original cap, got %v", err)
	}
}

func TestBurn_ReducesSupply(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 5000)

	if _, err := f.transfer(alice, domain.ZeroAddress, 2000); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if bal := f.book.BalanceOf(alice); bal != 3000 {
		t.Errorf("expected alice balance 3000, got %d", bal)
	}
	if got := f.book.TotalSupply(); got != 1_000_000+5000-2000 {
		t.Errorf("expected supply %d, got %d", 1_000_000+5000-2000, got)
	}
}

func TestFeeMovementFailure_RollsBackNet(t *testing.T) {
	f := newFixture(t)
	// Alice can cover the net but not the fee: the net credit must unwind.
	f.mint(t, alice, 99)

	_, err := f.transfer(alice, bob, 100)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if bal := f.book.BalanceOf(alice); bal != 99 {
		t.Errorf("expected alice restored to 99, got %d", bal)
	}
	if bal := f.book.BalanceOf(bob); bal != 0 {
		t.Errorf("expected bob restored to 0, got %d", bal)
	}
	f.book.VerifyConservation()
}

func TestOnAppliedCallback(t *testing.T) {
	f := newFixture(t)

	var got []domain.Receipt
	f.orch.onApplied = func(r domain.Receipt) { got = append(got, r) }

	f.mint(t, alice, 1000)
	if _, err := f.transfer(alice, bob, 100); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(got))
	}
	if got[1].Context != domain.CtxPeerTransfer || got[1].Fee != 2 {
		t.Errorf("callback receipt mismatch: %+v", got[1])
	}
	// Seq keeps counting across the fixture's seed mint
	if got[1].Seq != f.orch.AppliedCount() {
		t.Errorf("expected seq %d, got %d", f.orch.AppliedCount(), got[1].Seq)
	}
}

func TestZeroAmountPeerTransfer(t *testing.T) {
	f := newFixture(t)
	f.mint(t, alice, 100)

	// Zero amount: fee is zero, no fee movement, but the trade still counts
	// against the window.
	rcpt, err := f.transfer(alice, bob, 0)
	if err != nil {
		t.Fatalf("zero transfer failed: %v", err)
	}
	if rcpt.Fee != 0 || rcpt.Net != 0 {
		t.Errorf("expected zero fee and net, got %+v", rcpt)
	}
	if w := f.lim.WindowOf(alice); w.Count != 1 {
		t.Errorf("expected window count 1, got %d", w.Count)
	}
}

func TestCapture_MatchesLiveState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.transfer(treasury, alice, 1000); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	st := f.orch.Capture()
	if st.Seq != f.orch.AppliedCount() {
		t.Errorf("seq mismatch: capture %d, live %d", st.Seq, f.orch.AppliedCount())
	}
	if st.Supply != f.book.TotalSupply() {
		t.Errorf("supply mismatch: capture %d, live %d", st.Supply, f.book.TotalSupply())
	}
	if st.LastFee != f.orch.LastFee() {
		t.Errorf("last fee mismatch: capture %d, live %d", st.LastFee, f.orch.LastFee())
	}
	if st.Balances[alice] != f.book.BalanceOf(alice) {
		t.Errorf("balance mismatch: capture %d, live %d", st.Balances[alice], f.book.BalanceOf(alice))
	}
	if st.Buckets != f.alloc.Totals() {
		t.Errorf("bucket mismatch: capture %+v, live %+v", st.Buckets, f.alloc.Totals())
	}
	if st.Windows[alice].Count != f.lim.WindowOf(alice).Count {
		t.Errorf("window mismatch: capture %+v, live %+v", st.Windows[alice], f.lim.WindowOf(alice))
	}

	// The capture must be a copy, not a view of the live maps.
	st.Balances[alice] = 0
	if f.book.BalanceOf(alice) == 0 {
		t.Error("capture aliases the live balance map")
	}
}

func TestCapture_ConsistentDuringTransfers(t *testing.T) {
	f := newFixture(t)
	f.mint(t, team, 1_000)
	base := f.orch.AppliedCount()

	// Exempt one-unit transfers keep the expected state a pure function of
	// the sequence number: after n of them alice holds exactly n units.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := f.transfer(team, alice, 1); err != nil {
				t.Errorf("transfer %d failed: %v", i, err)
				return
			}
		}
	}()

	for {
		st := f.orch.Capture()
		applied := st.Seq - base
		if got := st.Balances[alice]; got != domain.Units(applied) {
			t.Fatalf("torn capture: seq advanced %d but alice holds %d", applied, got)
		}
		var sum domain.Units
		for _, bal := range st.Balances {
			sum += bal
		}
		if sum != st.Supply {
			t.Fatalf("captured balances sum to %d, supply is %d", sum, st.Supply)
		}

		select {
		case <-done:
			st = f.orch.Capture()
			if st.Seq != base+200 {
				t.Fatalf("expected final seq %d, got %d", base+200, st.Seq)
			}
			return
		default:
		}
	}
}
