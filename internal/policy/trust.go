package policy

import (
	"fmt"
	"strings"
)

// assumeRoleAction is the action a trust statement must cover, via the
// literal, "sts:*", or "*".
const assumeRoleAction = "sts:AssumeRole"

// TrustPrincipal identifies the caller attempting to assume a role.
type TrustPrincipal struct {
	Type  PrincipalType
	Value string
}

// TrustResult is the verdict of evaluating a trust document.
type TrustResult struct {
	Allowed        bool
	Reason         string
	StatementIndex int
}

// EvaluateTrust answers whether principal may assume the role guarded by the
// trust document under the given context. Any matched Deny statement rejects
// regardless of Allow statements; external-id and other challenges flow
// through the statement's Condition block.
func EvaluateTrust(doc *Document, principal TrustPrincipal, ctx Context) TrustResult {
	allowIdx := -1
	for i := range doc.Statement {
		stmt := &doc.Statement[i]
		if !trustStatementMatches(stmt, principal, ctx) {
			continue
		}

		if stmt.Effect == EffectDeny {
			return TrustResult{
				Allowed:        false,
				Reason:         fmt.Sprintf("explicitly denied by trust statement %d", i),
				StatementIndex: i,
			}
		}
		if allowIdx == -1 {
			allowIdx = i
		}
	}

	if allowIdx >= 0 {
		return TrustResult{
			Allowed:        true,
			Reason:         fmt.Sprintf("allowed by trust statement %d", allowIdx),
			StatementIndex: allowIdx,
		}
	}

	return TrustResult{
		Allowed:        false,
		Reason:         "no trust statement allows this principal",
		StatementIndex: -1,
	}
}

func trustStatementMatches(stmt *Statement, principal TrustPrincipal, ctx Context) bool {
	if stmt.NotPrincipal != nil {
		if matchesPrincipal(stmt.NotPrincipal, principal) {
			return false
		}
	} else if !matchesPrincipal(stmt.Principal, principal) {
		return false
	}

	if !actionMatches(stmt, assumeRoleAction) {
		return false
	}

	return EvalConditions(stmt.Condition, ctx)
}

// matchesPrincipal checks the caller against the patterns declared for its
// principal type. An account-root principal ("arn:...:root") widens to every
// principal of that account.
func matchesPrincipal(p *Principal, principal TrustPrincipal) bool {
	if p == nil {
		return false
	}

	for _, pattern := range p.Values(principal.Type) {
		if principal.Type == PrincipalAWS && strings.HasSuffix(pattern, ":root") {
			pattern = strings.Replace(pattern, ":root", ":*", 1)
		}
		if MatchPattern(pattern, principal.Value) {
			return true
		}
	}

	return false
}
