package billing

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	billingMetricsOnce sync.Once
	creditsDeducted    metric.Int64Counter
	billingBypassed    metric.Int64Counter
	billingFailures    metric.Int64Counter
)

func initBillingMetrics() {
	billingMetricsOnce.Do(func() {
		meter := otel.Meter("realmforge/billing")
		creditsDeducted, _ = meter.Int64Counter("realmforge.credits.deducted",
			metric.WithDescription("Credits debited from caller balances"))
		billingBypassed, _ = meter.Int64Counter("realmforge.billing.bypassed",
			metric.WithDescription("Reasoning calls not charged because the caller is unmetered"))
		billingFailures, _ = meter.Int64Counter("realmforge.billing.failures",
			metric.WithDescription("Deductions that failed open"))
	})
}
