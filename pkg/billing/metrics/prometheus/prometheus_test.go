package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestMetrics_ImplementsBillingInterface(t *testing.T) {
	var _ billing.Metrics = NewMetrics(prometheus.NewRegistry(), "test")
}

func TestMetrics_RecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	metrics.RecordWebhookEvent("stripe", "invoice.payment_succeeded", "error")

	mf := gatherFamily(t, reg, "test_billing_webhook_events_total")
	assert.Len(t, mf.GetMetric(), 2)

	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	assert.Equal(t, float64(3), total)
}

func TestMetrics_RecordWebhookProcessingDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookProcessingDuration("stripe", "customer.subscription.updated", 120*time.Millisecond)

	mf := gatherFamily(t, reg, "test_billing_webhook_processing_duration_seconds")
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_RecordCustomerSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCustomerSync("stripe", "success")
	metrics.RecordCustomerSyncDuration("stripe", 80*time.Millisecond)

	counts := gatherFamily(t, reg, "test_billing_customer_sync_total")
	require.Len(t, counts.GetMetric(), 1)
	assert.Equal(t, float64(1), counts.GetMetric()[0].GetCounter().GetValue())

	durations := gatherFamily(t, reg, "test_billing_customer_sync_duration_seconds")
	require.Len(t, durations.GetMetric(), 1)
	assert.Equal(t, uint64(1), durations.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_RecordPlanChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPlanChange("stripe", "free", "pro")

	mf := gatherFamily(t, reg, "test_billing_plan_changes_total")
	require.Len(t, mf.GetMetric(), 1)

	labels := map[string]string{}
	for _, lp := range mf.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, "free", labels["from_plan"])
	assert.Equal(t, "pro", labels["to_plan"])
}

func TestMetrics_RecordUserProvisioned(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordUserProvisioned("stripe", "success")
	metrics.RecordUserProvisioned("stripe", "error")

	mf := gatherFamily(t, reg, "test_billing_users_provisioned_total")
	assert.Len(t, mf.GetMetric(), 2)
}

func TestMetrics_RecordAPICall(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordAPICall("stripe", "/subscriptions/list", "200")
	metrics.RecordAPICallDuration("stripe", "/subscriptions/list", 45*time.Millisecond)

	counts := gatherFamily(t, reg, "test_billing_api_calls_total")
	require.Len(t, counts.GetMetric(), 1)

	durations := gatherFamily(t, reg, "test_billing_api_call_duration_seconds")
	require.Len(t, durations.GetMetric(), 1)
}
