// Package sms delivers OTP codes over the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phone-otp-auth/backend/internal/phone"
)

const (
	defaultBaseURL = "https://www.smslocal.com/dev/bulkV2"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrNotConfigured is returned by Send when no API key is set.
var ErrNotConfigured = errors.New("sms: API key not configured")

// SMSLocalClient sends OTP SMS via the SMS Local bulk API (route=otp).
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Send delivers code to p. The provider expects digits only, so the leading "+" is dropped.
// The code is never logged.
func (c *SMSLocalClient) Send(ctx context.Context, p phone.Number, code string) error {
	if c.APIKey == "" {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(sendRequest{
		Route:     "otp",
		Numbers:   strings.TrimPrefix(p.String(), "+"),
		Variables: code,
		SenderID:  c.Sender,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
