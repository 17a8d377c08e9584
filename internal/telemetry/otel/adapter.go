package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"phone-otp-auth/backend/internal/telemetry"
	"phone-otp-auth/backend/internal/telemetry/domain"
)

const instrumentationName = "phoneauth.events"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger returns an emitter writing to logger. Used by tests to capture records.
func NewEventEmitterWithLogger(logger logEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

// logEmitter is the subset of otellog.Logger the adapter needs.
type logEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger logEmitter
}

// Emit converts the event to an OTel log record: event type as body, identifiers as attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetSeverity(severityFor(event.Type))
	rec.SetBody(otellog.StringValue(string(event.Type)))
	rec.AddAttributes(
		otellog.String("event_id", event.ID),
		otellog.String("event_type", string(event.Type)),
	)
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if event.AccountID != "" {
		rec.AddAttributes(otellog.String("account_id", event.AccountID))
	}
	if event.Phone != "" {
		rec.AddAttributes(otellog.String("phone", event.Phone))
	}
	if event.ChainID != "" {
		rec.AddAttributes(otellog.String("chain_id", event.ChainID))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		rec.AddAttributes(otellog.String("meta."+k, v))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityFor(t domain.EventType) otellog.Severity {
	switch t {
	case domain.EventRefreshReuseDetected:
		return otellog.SeverityWarn
	case domain.EventOTPSendFailed, domain.EventOTPVerifyFailed:
		return otellog.SeverityInfo2
	default:
		return otellog.SeverityInfo
	}
}
