// Prometheus metrics for observability.
//
// Primary metrics the engine updates during operation:
//   - meme_transfers_total{context}   – applied transfers by classification
//   - meme_rejections_total{reason}   – aborted transfers by failure reason
//   - meme_fees_collected_total       – cumulative collected fees
//   - meme_fee_bucket_units{bucket}   – current bucket accumulator values
//   - meme_total_supply_units         – units currently in circulation
//
// Registered in init() and served by the inspection server at /metrics.
package infra

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
)

var (
	mtxTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meme_transfers_total",
			Help: "Applied transfers by context",
		},
		[]string{"context"},
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meme_rejections_total",
			Help: "Rejected transfers by failure reason",
		},
		[]string{"reason"},
	)

	mtxFeesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meme_fees_collected_total",
			Help: "Cumulative fee units collected",
		},
	)

	mtxBuckets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meme_fee_bucket_units",
			Help: "Current fee bucket accumulator values",
		},
		[]string{"bucket"},
	)

	mtxSupply = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meme_total_supply_units",
			Help: "Units currently in circulation",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxTransfers, mtxRejections, mtxFeesCollected, mtxBuckets, mtxSupply)
}

// ObserveTransfer records an applied transfer.
func ObserveTransfer(ctx domain.Context, fee domain.Units) {
	mtxTransfers.WithLabelValues(ctx.String()).Inc()
	if fee > 0 {
		mtxFeesCollected.Add(float64(fee))
	}
}

// ObserveRejection records an aborted transfer.
func ObserveRejection(err error) {
	mtxRejections.WithLabelValues(rejectionReason(err)).Inc()
}

// SetBuckets publishes the current bucket totals.
func SetBuckets(b fees.Buckets) {
	mtxBuckets.WithLabelValues("marketing").Set(float64(b.Marketing))
	mtxBuckets.WithLabelValues("liquidity").Set(float64(b.Liquidity))
	mtxBuckets.WithLabelValues("development").Set(float64(b.Development))
	mtxBuckets.WithLabelValues("burn").Set(float64(b.Burn))
}

// SetSupply publishes the current total supply.
func SetSupply(supply domain.Units) {
	mtxSupply.Set(float64(supply))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTradeTooLarge):
		return "trade_too_large"
	case errors.Is(err, domain.ErrRecipientAboveThresholdAfterCredit):
		return "recipient_above_threshold_post"
	case errors.Is(err, domain.ErrRecipientAboveThreshold):
		return "recipient_above_threshold"
	case errors.Is(err, domain.ErrSenderRateLimited):
		return "sender_rate_limited"
	case errors.Is(err, domain.ErrRecipientRateLimited):
		return "recipient_rate_limited"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}
