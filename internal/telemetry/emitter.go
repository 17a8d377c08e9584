package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"phone-otp-auth/backend/internal/telemetry/domain"
)

// Source is stamped on every event built by NewEvent.
const Source = "phoneauth"

// EventEmitter emits auth events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// NewEvent returns an event of the given type with ID, source and timestamp set.
func NewEvent(typ domain.EventType) *domain.Event {
	return &domain.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Source:    Source,
		CreatedAt: time.Now().UTC(),
	}
}

// Multi fans an event out to every non-nil emitter and joins their errors.
func Multi(emitters ...EventEmitter) EventEmitter {
	var out multiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
