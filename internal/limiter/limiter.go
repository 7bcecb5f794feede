// Package limiter enforces the three admission caps on transfers: a static
// per-transfer size cap, a static per-account holding cap, and a rolling
// 24-hour per-account trade-count window.
package limiter

import (
	"sync"
	"time"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/pkg/safe"
)

const (
	// WindowSeconds is the rolling trade window length.
	WindowSeconds = 86400

	// MaxTradesPerWindow is the per-account trade cap inside one window.
	MaxTradesPerWindow = 20
)

// StaticLimits are derived once from total supply at construction and never
// recomputed, regardless of later supply changes.
type StaticLimits struct {
	MaxTradeAmount    domain.Units `json:"max_trade_amount"`
	MaxAccountBalance domain.Units `json:"max_account_balance"`
}

// LimitsFromSupply derives the caps: 1% of supply per trade, 2% per wallet.
func LimitsFromSupply(supply domain.Units) StaticLimits {
	return StaticLimits{
		MaxTradeAmount:    domain.Units(safe.Div(int64(supply), 100)),
		MaxAccountBalance: domain.Units(safe.Div(int64(supply), 50)),
	}
}

// WindowState is the per-account rolling-window record. The count is only
// meaningful relative to StartUnix: once a full window has elapsed the
// account is treated as freshly eligible even before the stored count is
// physically reset.
type WindowState struct {
	StartUnix int64 `json:"start"`
	Count     int   `json:"count"`
}

// BalanceReader is the slice of the ledger the threshold check needs.
type BalanceReader interface {
	BalanceOf(acct domain.Address) domain.Units
}

// RateWindowLimiter owns the static caps and the per-account windows.
// The engine's hotpath is the single writer; the RWMutex exists only for
// external reads (inspection, snapshots).
type RateWindowLimiter struct {
	mu       sync.RWMutex
	limits   StaticLimits
	balances BalanceReader
	windows  map[domain.Address]*WindowState
	now      func() int64
}

// New creates a limiter over the given ledger view.
func New(limits StaticLimits, balances BalanceReader) *RateWindowLimiter {
	return NewWithClock(limits, balances, func() int64 { return time.Now().Unix() })
}

// NewWithClock creates a limiter with an injected clock (unix seconds).
func NewWithClock(limits StaticLimits, balances BalanceReader, now func() int64) *RateWindowLimiter {
	return &RateWindowLimiter{
		limits:   limits,
		balances: balances,
		windows:  make(map[domain.Address]*WindowState),
		now:      now,
	}
}

// Limits returns the static caps.
func (l *RateWindowLimiter) Limits() StaticLimits {
	return l.limits
}

// IsTradeAllowed reports whether amount fits the per-transfer cap.
// Pure function of static config.
func (l *RateWindowLimiter) IsTradeAllowed(amount domain.Units) bool {
	return amount <= l.limits.MaxTradeAmount
}

// IsBalanceBelowThreshold reports whether acct currently holds strictly less
// than the wallet cap.
func (l *RateWindowLimiter) IsBalanceBelowThreshold(acct domain.Address) bool {
	return l.balances.BalanceOf(acct) < l.limits.MaxAccountBalance
}

// CanTrade reports whether acct may trade now: always true once a full
// window has elapsed since its window start, otherwise only while its count
// is below the cap.
func (l *RateWindowLimiter) CanTrade(acct domain.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.windows[acct]
	if !ok {
		return true
	}
	if l.now()-w.StartUnix >= WindowSeconds {
		return true
	}
	return w.Count < MaxTradesPerWindow
}

// RecordTrade counts a completed trade for acct. Every recorded trade
// refreshes the window start, so a window only expires after a full 24h gap
// with no trades at all; a continuously active account never naturally
// resets and is bounded by the count cap read at admission time instead.
func (l *RateWindowLimiter) RecordTrade(acct domain.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[acct]
	if !ok {
		w = &WindowState{}
		l.windows[acct] = w
	}
	if now-w.StartUnix >= WindowSeconds {
		w.Count = 0
	}
	w.Count++
	w.StartUnix = now
}

// WindowOf returns a copy of the stored window state for acct (external read).
func (l *RateWindowLimiter) WindowOf(acct domain.Address) WindowState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if w, ok := l.windows[acct]; ok {
		return *w
	}
	return WindowState{}
}

// Snapshot returns a copy of all window states (external read).
func (l *RateWindowLimiter) Snapshot() map[domain.Address]WindowState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[domain.Address]WindowState, len(l.windows))
	for acct, w := range l.windows {
		out[acct] = *w
	}
	return out
}

// Restore replaces all window states from a snapshot.
func (l *RateWindowLimiter) Restore(windows map[domain.Address]WindowState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windows = make(map[domain.Address]*WindowState, len(windows))
	for acct, w := range windows {
		cp := w
		l.windows[acct] = &cp
	}
}
