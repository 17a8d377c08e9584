package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "", []int{44})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name  string
		phone string
		typ   otpdomain.ChallengeType
		want  bool
	}{
		{"allowed US login", "+15551234567", otpdomain.ChallengeLogin, true},
		{"allowed US register", "+15551234567", otpdomain.ChallengeRegister, true},
		{"blocked UK", "+442079460958", otpdomain.ChallengeLogin, false},
		{"unknown type", "+15551234567", "signup", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.AllowIssue(ctx, phoneNumber(tt.phone), tt.typ, "10.0.0.1")
			if err != nil {
				t.Fatalf("AllowIssue: %v", err)
			}
			if got != tt.want {
				t.Errorf("AllowIssue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicyUsesRateLimitKey(t *testing.T) {
	policy := `package phoneauth.otp_issuance

default allow := false

allow if {
	not startswith(input.rate_limit_key, "203.0.113.")
}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.rego")
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	e, err := NewOPAEvaluatorFromFile(ctx, path, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile: %v", err)
	}
	if ok, _ := e.AllowIssue(ctx, "+15551234567", otpdomain.ChallengeLogin, "203.0.113.9"); ok {
		t.Error("denylisted address should be rejected")
	}
	if ok, _ := e.AllowIssue(ctx, "+15551234567", otpdomain.ChallengeLogin, "198.51.100.1"); !ok {
		t.Error("other address should be allowed")
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\nallow if {", nil); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewOPAEvaluatorFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Fatal("expected read error")
	}
}

func phoneNumber(s string) phone.Number { return phone.Number(s) }
