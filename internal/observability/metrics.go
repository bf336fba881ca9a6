package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager holds the OpenTelemetry instruments shared by the
// gateway and worker processes.
type MetricsManager struct {
	meter metric.Meter

	// Request/response dispatch
	requestsRoutedTotal     metric.Int64Counter
	requestDispatchDuration metric.Float64Histogram
	requestErrorsTotal      metric.Int64Counter
	responsesRoutedTotal    metric.Int64Counter

	// Event fan-out
	eventsPublishedTotal metric.Int64Counter
	eventFanoutTotal     metric.Int64Counter
	deadLetteredTotal    metric.Int64Counter

	// Placement / registry
	placementsTotal   metric.Int64Counter
	pendingRequests   metric.Int64UpDownCounter
	connectedWorkers  metric.Int64UpDownCounter

	// System metrics
	processResidentMemoryBytes metric.Int64UpDownCounter
	goGoroutines               metric.Int64UpDownCounter
	goMemstatsAllocBytes       metric.Int64UpDownCounter
}

// NewMetricsManager registers every instrument on meter.
func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	mm.requestsRoutedTotal, err = meter.Int64Counter(
		"requests_routed_total",
		metric.WithDescription("Total number of requests routed to a worker"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.requestDispatchDuration, err = meter.Float64Histogram(
		"request_dispatch_duration_seconds",
		metric.WithDescription("Time from request routing to response delivery, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.requestErrorsTotal, err = meter.Int64Counter(
		"request_errors_total",
		metric.WithDescription("Total number of requests that failed before a response was delivered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.responsesRoutedTotal, err = meter.Int64Counter(
		"responses_routed_total",
		metric.WithDescription("Total number of responses routed back to a requester"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventsPublishedTotal, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events published by an agent"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventFanoutTotal, err = meter.Int64Counter(
		"event_fanout_total",
		metric.WithDescription("Total number of per-subscriber event deliveries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.deadLetteredTotal, err = meter.Int64Counter(
		"dead_lettered_total",
		metric.WithDescription("Total number of events moved to a topic's dead letter queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.placementsTotal, err = meter.Int64Counter(
		"agent_placements_total",
		metric.WithDescription("Total number of agent activations placed onto a worker"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.pendingRequests, err = meter.Int64UpDownCounter(
		"pending_requests",
		metric.WithDescription("Number of requests awaiting a response"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.connectedWorkers, err = meter.Int64UpDownCounter(
		"connected_workers",
		metric.WithDescription("Number of worker connections currently in the READY state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.processResidentMemoryBytes, err = meter.Int64UpDownCounter(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MetricsManager) IncrementRequestsRouted(ctx context.Context, method string, targetType string) {
	mm.requestsRoutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("target_type", targetType),
	))
}

func (mm *MetricsManager) RecordRequestDispatchDuration(ctx context.Context, method string, duration time.Duration) {
	mm.requestDispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
	))
}

func (mm *MetricsManager) IncrementRequestErrors(ctx context.Context, method, reason string) {
	mm.requestErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason),
	))
}

func (mm *MetricsManager) IncrementResponsesRouted(ctx context.Context, method string) {
	mm.responsesRoutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

func (mm *MetricsManager) IncrementEventsPublished(ctx context.Context, topicType string) {
	mm.eventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic_type", topicType),
	))
}

func (mm *MetricsManager) IncrementEventFanout(ctx context.Context, topicType, subscriberType string) {
	mm.eventFanoutTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic_type", topicType),
		attribute.String("subscriber_type", subscriberType),
	))
}

func (mm *MetricsManager) IncrementDeadLettered(ctx context.Context, topicType, reason string) {
	mm.deadLetteredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic_type", topicType),
		attribute.String("reason", reason),
	))
}

func (mm *MetricsManager) IncrementPlacements(ctx context.Context, agentType string) {
	mm.placementsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_type", agentType),
	))
}

func (mm *MetricsManager) AdjustPendingRequests(ctx context.Context, delta int64) {
	mm.pendingRequests.Add(ctx, delta)
}

func (mm *MetricsManager) AdjustConnectedWorkers(ctx context.Context, delta int64) {
	mm.connectedWorkers.Add(ctx, delta)
}

// UpdateSystemMetrics refreshes the process-level gauges. Call it
// periodically (e.g. from a background ticker in cmd/gateway and
// cmd/worker).
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Add(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAllocBytes.Add(ctx, int64(m.Alloc))
	mm.processResidentMemoryBytes.Add(ctx, int64(m.Sys))
}

// StartTimer returns a stop function that records the elapsed duration
// against the request dispatch histogram when called.
func (mm *MetricsManager) StartTimer() func(ctx context.Context, method string) {
	start := time.Now()
	return func(ctx context.Context, method string) {
		mm.RecordRequestDispatchDuration(ctx, method, time.Since(start))
	}
}
