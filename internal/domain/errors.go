package domain

import "errors"

// Failure reasons surfaced by the transfer engine. Every failure aborts the
// whole operation with no side effects; callers match with errors.Is.
var (
	// ErrTradeTooLarge: amount exceeds the static per-transfer cap.
	ErrTradeTooLarge = errors.New("trade amount exceeds max trade size")

	// ErrRecipientAboveThreshold: destination balance at or above the wallet
	// cap before the net credit.
	ErrRecipientAboveThreshold = errors.New("recipient balance at or above wallet cap")

	// ErrRecipientAboveThresholdAfterCredit: the post-credit re-check failed.
	// Distinct from the pre-check so callers can tell which gate tripped.
	ErrRecipientAboveThresholdAfterCredit = errors.New("recipient balance above wallet cap after credit")

	// ErrSenderRateLimited / ErrRecipientRateLimited: the account has reached
	// the trade-count cap within its current 24h window.
	ErrSenderRateLimited    = errors.New("sender reached daily trade limit")
	ErrRecipientRateLimited = errors.New("recipient reached daily trade limit")

	// ErrInsufficientBalance: source cannot cover the requested movement.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNegativeAmount: movements are defined over non-negative amounts only.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrNotController: registry mutation attempted by a non-controller.
	ErrNotController = errors.New("caller is not the controller")
)
