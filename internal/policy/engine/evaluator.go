// Package engine evaluates the OTP issuance policy with OPA Rego.
package engine

import (
	"context"

	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
)

// IssuanceInput is the document passed to the policy as input.
type IssuanceInput struct {
	Phone               string `json:"phone"`
	CountryCode         int    `json:"country_code"`
	ChallengeType       string `json:"challenge_type"`
	RateLimitKey        string `json:"rate_limit_key"`
	BlockedCountryCodes []int  `json:"blocked_country_codes"`
}

// Evaluator decides whether an OTP may be issued.
type Evaluator interface {
	AllowIssue(ctx context.Context, p phone.Number, typ otpdomain.ChallengeType, rateLimitKey string) (bool, error)
}
