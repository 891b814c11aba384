package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the relay's instruments. A nil *Metrics is valid and records
// nothing, so components may leave it unset.
type Metrics struct {
	InboundEvents     metric.Int64Counter
	BatchesProcessed  metric.Int64Counter
	BatchesGated      metric.Int64Counter
	BatchFailures     metric.Int64Counter
	MessagesDelivered metric.Int64Counter
	AgentTokens       metric.Int64Counter
	JobsScheduled     metric.Int64Counter
	JobsCancelled     metric.Int64Counter
	BatchDuration     metric.Float64Histogram
	AgentDuration     metric.Float64Histogram
}

// NewMetrics creates all instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.InboundEvents, "shoprelay.inbound.events", "Inbound webhook events by ingestion result"},
		{&m.BatchesProcessed, "shoprelay.batch.processed", "Batches that produced an agent reply"},
		{&m.BatchesGated, "shoprelay.batch.gated", "Batches persisted without invoking the agent"},
		{&m.BatchFailures, "shoprelay.batch.failures", "Batches that failed after cleanup"},
		{&m.MessagesDelivered, "shoprelay.delivery.messages", "Messages delivered to customers"},
		{&m.AgentTokens, "shoprelay.agent.tokens", "Total tokens consumed by the agent"},
		{&m.JobsScheduled, "shoprelay.scheduler.scheduled", "Batch jobs scheduled"},
		{&m.JobsCancelled, "shoprelay.scheduler.cancelled", "Batch jobs cancelled before firing"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.BatchDuration, err = meter.Float64Histogram("shoprelay.batch.duration",
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("shoprelay.agent.duration",
		metric.WithDescription("Agent run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Inbound counts one ingested event.
func (m *Metrics) Inbound(ctx context.Context, platform, result string) {
	if m == nil {
		return
	}
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("result", result),
	))
}

// Batch records a finished batch. outcome is processed, gated, empty or
// failed.
func (m *Metrics) Batch(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	switch outcome {
	case "processed":
		m.BatchesProcessed.Add(ctx, 1)
	case "gated":
		m.BatchesGated.Add(ctx, 1)
	case "failed":
		m.BatchFailures.Add(ctx, 1)
	}
	m.BatchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Delivered counts messages sent to a customer.
func (m *Metrics) Delivered(ctx context.Context, platform string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesDelivered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("platform", platform)))
}

// AgentRun records one agent invocation.
func (m *Metrics) AgentRun(ctx context.Context, model string, tokens int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attr := metric.WithAttributes(attribute.String("model", model))
	m.AgentTokens.Add(ctx, int64(tokens), attr)
	m.AgentDuration.Record(ctx, elapsed.Seconds(), attr)
}

// Scheduled counts a scheduled batch job.
func (m *Metrics) Scheduled(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsScheduled.Add(ctx, 1)
}

// Cancelled counts a cancelled batch job.
func (m *Metrics) Cancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsCancelled.Add(ctx, 1)
}
