package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"phone-otp-auth/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventOTPIssued}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := &domain.Event{
		ID:        "ev-1",
		Type:      domain.EventRefreshReuseDetected,
		Source:    "phoneauth",
		AccountID: "acc-1",
		Phone:     "+*******4567",
		ChainID:   "chain-1",
		Metadata:  map[string]string{"client": "ios"},
		CreatedAt: created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.Body().AsString() != "refresh_reuse_detected" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"event_id":    "ev-1",
		"event_type":  "refresh_reuse_detected",
		"source":      "phoneauth",
		"account_id":  "acc-1",
		"phone":       "+*******4567",
		"chain_id":    "chain-1",
		"meta.client": "ios",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
	if _, ok := attrs["reason"]; ok {
		t.Error("empty reason should not be emitted")
	}
}

func TestEmit_ZeroTimestampDefaultsToNow(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().Add(-time.Second)
	if err := em.Emit(context.Background(), &domain.Event{Type: domain.EventOTPIssued}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if capture.rec.Timestamp().Before(before) {
		t.Errorf("timestamp %v not defaulted to now", capture.rec.Timestamp())
	}
}
