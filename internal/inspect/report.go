package inspect

import (
	"github.com/shopspring/decimal"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/limiter"
)

// StateReport is the full external view of the engine: the inspectable state
// surfaces plus derived decimal figures for human consumption. Decimals stay
// at this boundary; the engine itself is all-int64.
type StateReport struct {
	Supply   domain.Units                           `json:"supply"`
	Applied  uint64                                 `json:"applied"`
	LastFee  domain.Units                           `json:"last_fee"`
	Limits   limiter.StaticLimits                   `json:"limits"`
	Buckets  fees.Buckets                           `json:"buckets"`
	Balances map[domain.Address]domain.Units        `json:"balances"`
	Windows  map[domain.Address]limiter.WindowState `json:"windows"`

	// FeeRates are the static per-context rates as fractions.
	FeeRates map[string]decimal.Decimal `json:"fee_rates"`
	// BucketShares are each bucket's fraction of the total recorded so far.
	BucketShares map[string]decimal.Decimal `json:"bucket_shares"`
}

var hundred = decimal.NewFromInt(100)

// BuildReport assembles a report from state copies.
func BuildReport(
	supply domain.Units,
	applied uint64,
	lastFee domain.Units,
	limits limiter.StaticLimits,
	buckets fees.Buckets,
	balances map[domain.Address]domain.Units,
	windows map[domain.Address]limiter.WindowState,
) StateReport {
	report := StateReport{
		Supply:   supply,
		Applied:  applied,
		LastFee:  lastFee,
		Limits:   limits,
		Buckets:  buckets,
		Balances: balances,
		Windows:  windows,
		FeeRates: map[string]decimal.Decimal{
			domain.CtxBuy.String():          decimal.NewFromInt(fees.BuyFeePct).Div(hundred),
			domain.CtxSell.String():         decimal.NewFromInt(fees.SellFeePct).Div(hundred),
			domain.CtxPeerTransfer.String(): decimal.NewFromInt(fees.TransferFeePct).Div(hundred),
		},
		BucketShares: make(map[string]decimal.Decimal, 4),
	}

	total := decimal.NewFromInt(int64(buckets.Sum()))
	if total.IsZero() {
		return report
	}
	report.BucketShares["marketing"] = decimal.NewFromInt(int64(buckets.Marketing)).Div(total)
	report.BucketShares["liquidity"] = decimal.NewFromInt(int64(buckets.Liquidity)).Div(total)
	report.BucketShares["development"] = decimal.NewFromInt(int64(buckets.Development)).Div(total)
	report.BucketShares["burn"] = decimal.NewFromInt(int64(buckets.Burn)).Div(total)
	return report
}
