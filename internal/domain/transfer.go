package domain

import (
	"github.com/google/uuid"
)

// Context classifies a transfer by the registry membership of its endpoints.
// Computed fresh per operation, never stored.
type Context uint8

const (
	CtxMintOrBurn   Context = iota + 1 // either endpoint is the null account
	CtxExempt                          // either endpoint is registered exempt
	CtxBuy                             // source is a market venue
	CtxSell                            // destination is a market venue
	CtxPeerTransfer                    // everything else
)

func (c Context) String() string {
	switch c {
	case CtxMintOrBurn:
		return "MINT_OR_BURN"
	case CtxExempt:
		return "EXEMPT"
	case CtxBuy:
		return "BUY"
	case CtxSell:
		return "SELL"
	case CtxPeerTransfer:
		return "PEER_TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// Request is a transfer as submitted by a caller.
type Request struct {
	ID     uuid.UUID `json:"id"`
	From   Address   `json:"from"`
	To     Address   `json:"to"`
	Amount Units     `json:"amount"`
}

// NewRequest builds a Request with a fresh id.
func NewRequest(from, to Address, amount Units) Request {
	return Request{ID: uuid.New(), From: from, To: to, Amount: amount}
}

// Receipt records an applied transfer: how it was classified and how the
// requested amount was split between the net credit and the fee.
type Receipt struct {
	ID      uuid.UUID `json:"id"`
	Seq     uint64    `json:"seq"`
	From    Address   `json:"from"`
	To      Address   `json:"to"`
	Context Context   `json:"context"`
	Amount  Units     `json:"amount"`
	Fee     Units     `json:"fee"`
	Net     Units     `json:"net"`
	TsUnix  int64     `json:"ts"`
}
