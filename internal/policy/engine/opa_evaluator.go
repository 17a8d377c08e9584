package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	otpdomain "phone-otp-auth/backend/internal/otp/domain"
	"phone-otp-auth/backend/internal/phone"
)

const issuanceQuery = "data.phoneauth.otp_issuance.allow"

// DefaultPolicy allows issuance for known challenge types unless the calling code is blocked.
const DefaultPolicy = `package phoneauth.otp_issuance

default allow := false

allow if {
	input.challenge_type in {"login", "register"}
	not blocked_country
}

blocked_country if {
	input.country_code in input.blocked_country_codes
}
`

// OPAEvaluator evaluates a prepared Rego query. Safe for concurrent use.
type OPAEvaluator struct {
	query   rego.PreparedEvalQuery
	blocked []int
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty). blocked is passed to the
// policy as input.blocked_country_codes.
func NewOPAEvaluator(ctx context.Context, policy string, blocked []int) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"otp_issuance.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile issuance policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(issuanceQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare issuance policy: %w", err)
	}
	if blocked == nil {
		blocked = []int{}
	}
	return &OPAEvaluator{query: pq, blocked: blocked}, nil
}

// NewOPAEvaluatorFromFile reads the policy from path; an empty path uses DefaultPolicy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, blocked []int) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", blocked)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issuance policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(src), blocked)
}

// AllowIssue evaluates the policy for one issuance request. An undefined result denies.
func (e *OPAEvaluator) AllowIssue(ctx context.Context, p phone.Number, typ otpdomain.ChallengeType, rateLimitKey string) (bool, error) {
	in := IssuanceInput{
		Phone:               p.String(),
		CountryCode:         phone.CountryCode(p),
		ChallengeType:       string(typ),
		RateLimitKey:        rateLimitKey,
		BlockedCountryCodes: e.blocked,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("eval issuance policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates the prepared query against a representative input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(IssuanceInput{
		Phone:               "+15551234567",
		CountryCode:         1,
		ChallengeType:       string(otpdomain.ChallengeLogin),
		BlockedCountryCodes: []int{},
	}))
	if err != nil {
		return fmt.Errorf("eval issuance policy: %w", err)
	}
	if len(rs) == 0 {
		return fmt.Errorf("issuance policy query returned no result")
	}
	return nil
}
