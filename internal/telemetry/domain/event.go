package domain

import "time"

// EventType names an auth event.
type EventType string

const (
	EventOTPIssued            EventType = "otp_issued"
	EventOTPSendFailed        EventType = "otp_send_failed"
	EventOTPVerified          EventType = "otp_verified"
	EventOTPVerifyFailed      EventType = "otp_verify_failed"
	EventAccountRegistered    EventType = "account_registered"
	EventSessionRotated       EventType = "session_rotated"
	EventRefreshReuseDetected EventType = "refresh_reuse_detected"
	EventSessionRevoked       EventType = "session_revoked"
)

// Event is one auth event. Phone is always masked.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"event_type"`
	Source    string            `json:"source"`
	AccountID string            `json:"account_id,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	ChainID   string            `json:"chain_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
