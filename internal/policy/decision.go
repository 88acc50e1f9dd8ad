package policy

import "fmt"

// DecisionEffect is the final verdict of the access decision engine.
type DecisionEffect string

const (
	DecisionAllow DecisionEffect = "ALLOW"
	DecisionDeny  DecisionEffect = "DENY"
)

// PolicyEvaluation pairs a policy's identity with its evaluation result.
type PolicyEvaluation struct {
	PolicyID   string
	PolicyName string
	Result     Result
}

// MatchedPolicy identifies a statement that applied to the request, for the
// audit trail carried on every decision.
type MatchedPolicy struct {
	PolicyID       string `json:"policyId"`
	PolicyName     string `json:"policyName"`
	Effect         Effect `json:"effect"`
	StatementIndex int    `json:"statementIndex"`
}

// Decision is the aggregated verdict across all applicable policies.
type Decision struct {
	Effect          DecisionEffect  `json:"decision"`
	Reason          string          `json:"reason"`
	MatchedPolicies []MatchedPolicy `json:"matchedPolicies"`
}

// Allowed reports whether the decision permits the request.
func (d *Decision) Allowed() bool {
	return d != nil && d.Effect == DecisionAllow
}

// Decide aggregates per-policy evaluations using IAM precedence: any explicit
// Deny wins, otherwise any Allow wins, otherwise default deny.
func Decide(evals []PolicyEvaluation) *Decision {
	decision := &Decision{}

	var firstDeny, firstAllow *PolicyEvaluation
	for i := range evals {
		eval := &evals[i]
		for _, ms := range eval.Result.MatchedStatements {
			decision.MatchedPolicies = append(decision.MatchedPolicies, MatchedPolicy{
				PolicyID:       eval.PolicyID,
				PolicyName:     eval.PolicyName,
				Effect:         ms.Effect,
				StatementIndex: ms.Index,
			})
		}

		switch eval.Result.Outcome {
		case OutcomeDeny:
			if firstDeny == nil {
				firstDeny = eval
			}
		case OutcomeAllow:
			if firstAllow == nil {
				firstAllow = eval
			}
		}
	}

	switch {
	case firstDeny != nil:
		decision.Effect = DecisionDeny
		decision.Reason = fmt.Sprintf("Explicit deny from policy %s", firstDeny.PolicyName)
	case firstAllow != nil:
		decision.Effect = DecisionAllow
		decision.Reason = fmt.Sprintf("Allowed by policy %s", firstAllow.PolicyName)
	default:
		decision.Effect = DecisionDeny
		decision.Reason = "No policy allows this action; default deny"
	}

	return decision
}
