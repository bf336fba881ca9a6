package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityHandler is the slog.Handler every gateway and worker
// process logs through. It turns each record into a metric (logs_total
// plus a trace-correlated processing histogram) and, non-blockingly,
// a structured record a caller can forward elsewhere via
// SetLogRecordPoster -- used in development to mirror a worker's log
// stream back through its own gRPC control connection instead of a
// second transport.
type ObservabilityHandler struct {
	opts        HandlerOptions
	tracer      trace.Tracer
	meter       metric.Meter
	serviceName string

	// Metrics
	logsProcessedTotal metric.Int64Counter
	logProcessingDur   metric.Float64Histogram
	logHandlerErrors   metric.Int64Counter
	logCounter         metric.Int64Counter

	// Log record posting
	postLogRecord func(rec LogRecord) error

	// Buffering
	buffer   chan logEntry
	mu       sync.RWMutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type HandlerOptions struct {
	Level       slog.Level
	Writer      io.Writer
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
	BufferSize  int
}

type logEntry struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs []slog.Attr
	ctx   context.Context
}

// LogRecord is a structured, self-contained rendering of one slog
// record, suitable for forwarding to an external sink. The shape
// mirrors what a worker's dispatch log line carries: who emitted it,
// what it was about, and the trace it belongs to.
type LogRecord struct {
	ID      string            `json:"id"`
	Level   string            `json:"level"`
	Service string            `json:"service"`
	Subject string            `json:"subject"`
	Time    time.Time         `json:"time"`
	Data    interface{}       `json:"data"`
	Headers map[string]string `json:"headers"`
	TraceID string            `json:"trace_id"`
	SpanID  string            `json:"span_id"`
}

func NewObservabilityHandler(tracer trace.Tracer, meter metric.Meter, serviceName string) (*ObservabilityHandler, error) {
	return NewObservabilityHandlerWithOptions(tracer, meter, serviceName, HandlerOptions{
		Level:      slog.LevelInfo,
		BufferSize: 1000,
	})
}

func NewObservabilityHandlerWithOptions(tracer trace.Tracer, meter metric.Meter, serviceName string, opts HandlerOptions) (*ObservabilityHandler, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	logsProcessedTotal, err := meter.Int64Counter(
		"log_records_processed_total",
		metric.WithDescription("Total number of log records handed to the observability handler"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	logProcessingDur, err := meter.Float64Histogram(
		"log_record_processing_duration_seconds",
		metric.WithDescription("Time spent turning a log record into its structured form, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	logHandlerErrors, err := meter.Int64Counter(
		"log_handler_errors_total",
		metric.WithDescription("Total number of log records dropped or failed to post"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	logCounter, err := meter.Int64Counter(
		"logs_total",
		metric.WithDescription("Total number of log entries emitted, by level"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	h := &ObservabilityHandler{
		opts:               opts,
		tracer:             tracer,
		meter:              meter,
		serviceName:        serviceName,
		logsProcessedTotal: logsProcessedTotal,
		logProcessingDur:   logProcessingDur,
		logHandlerErrors:   logHandlerErrors,
		logCounter:         logCounter,
		buffer:             make(chan logEntry, opts.BufferSize),
		shutdown:           make(chan struct{}),
	}

	h.wg.Add(1)
	go h.processLogs()

	return h, nil
}

func (h *ObservabilityHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *ObservabilityHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		attrs = append(attrs,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("service", h.serviceName),
		slog.String("source", getSource()),
	)

	entry := logEntry{
		time:  r.Time,
		level: r.Level,
		msg:   r.Message,
		attrs: attrs,
		ctx:   ctx,
	}

	select {
	case h.buffer <- entry:
	default:
		h.logHandlerErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "log_buffer_full"),
			attribute.String("service", h.serviceName),
		))
	}

	return nil
}

func (h *ObservabilityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attributes from With() are not threaded through; every record
	// still carries its own service/trace attrs added in Handle.
	newHandler, _ := NewObservabilityHandlerWithOptions(h.tracer, h.meter, h.serviceName, h.opts)
	return newHandler
}

func (h *ObservabilityHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *ObservabilityHandler) processLogs() {
	defer h.wg.Done()

	for {
		select {
		case entry := <-h.buffer:
			h.processLogEntry(entry)
		case <-h.shutdown:
			for {
				select {
				case entry := <-h.buffer:
					h.processLogEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (h *ObservabilityHandler) processLogEntry(entry logEntry) {
	start := time.Now()

	h.logCounter.Add(entry.ctx, 1, metric.WithAttributes(
		attribute.String("level", entry.level.String()),
		attribute.String("service", h.serviceName),
	))

	logData := map[string]interface{}{
		"time":    entry.time.Format(time.RFC3339),
		"level":   entry.level.String(),
		"msg":     entry.msg,
		"service": h.serviceName,
	}

	for _, attr := range entry.attrs {
		logData[attr.Key] = attr.Value.Any()
	}

	if h.opts.Writer != nil {
		fmt.Fprintf(h.opts.Writer, "%v\n", logData)
	}

	h.mu.RLock()
	poster := h.postLogRecord
	h.mu.RUnlock()

	if poster != nil {
		rec := LogRecord{
			ID:      fmt.Sprintf("log_%d", time.Now().UnixNano()),
			Level:   entry.level.String(),
			Service: h.serviceName,
			Subject: entry.msg,
			Time:    entry.time,
			Data:    logData,
			Headers: make(map[string]string),
		}

		for _, attr := range entry.attrs {
			if attr.Key == "trace_id" || attr.Key == "span_id" {
				rec.Headers[attr.Key] = attr.Value.String()
			}
		}

		go func() {
			if err := poster(rec); err != nil {
				h.logHandlerErrors.Add(context.Background(), 1, metric.WithAttributes(
					attribute.String("reason", "post_log_record_failed"),
					attribute.String("service", h.serviceName),
				))
			}
		}()
	}

	h.logsProcessedTotal.Add(entry.ctx, 1, metric.WithAttributes(
		attribute.String("service", h.serviceName),
	))
	h.logProcessingDur.Record(entry.ctx, time.Since(start).Seconds())
}

// SetLogRecordPoster installs a callback invoked (in its own goroutine)
// with each processed log record. A nil poster disables forwarding.
func (h *ObservabilityHandler) SetLogRecordPoster(poster func(rec LogRecord) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postLogRecord = poster
}

func (h *ObservabilityHandler) Shutdown(ctx context.Context) error {
	close(h.shutdown)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func getSource() string {
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
