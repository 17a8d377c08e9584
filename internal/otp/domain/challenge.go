package domain

import "time"

// ChallengeType records which flow a challenge was issued for. A code issued for
// one type never completes the other.
type ChallengeType string

const (
	ChallengeRegister ChallengeType = "register"
	ChallengeLogin    ChallengeType = "login"
)

// Valid reports whether t is a known challenge type.
func (t ChallengeType) Valid() bool {
	return t == ChallengeRegister || t == ChallengeLogin
}

// Challenge is the single live OTP challenge for a phone number.
// The plaintext code is never stored; CodeHash is keyed by Salt and the phone.
type Challenge struct {
	Phone        string
	Type         ChallengeType
	CodeHash     string
	Salt         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AttemptsLeft int
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
