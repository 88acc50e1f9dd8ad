package policy

// Outcome is the result of evaluating one policy document.
type Outcome string

const (
	// OutcomeNoMatch means no statement applied to the request.
	OutcomeNoMatch Outcome = "NoMatch"
	// OutcomeAllow means at least one Allow statement matched and no Deny did.
	OutcomeAllow Outcome = "Allow"
	// OutcomeDeny means at least one Deny statement matched.
	OutcomeDeny Outcome = "Deny"
)

// MatchedStatement records one statement that applied to the request.
type MatchedStatement struct {
	Index  int
	SID    string
	Effect Effect
}

// Result is the outcome of evaluating a single document.
type Result struct {
	Outcome           Outcome
	MatchedStatements []MatchedStatement
}

// Evaluate runs one policy document against (action, resource, ctx).
// A statement matches when its Action/NotAction covers the action, its
// Resource/NotResource covers the resource, and its Condition passes.
// Within a document a matched Deny dominates any matched Allow.
func Evaluate(doc *Document, action, resource string, ctx Context) Result {
	result := Result{Outcome: OutcomeNoMatch}

	for i := range doc.Statement {
		stmt := &doc.Statement[i]
		if !statementMatches(stmt, action, resource, ctx) {
			continue
		}

		result.MatchedStatements = append(result.MatchedStatements, MatchedStatement{
			Index:  i,
			SID:    stmt.SID,
			Effect: stmt.Effect,
		})

		if stmt.Effect == EffectDeny {
			result.Outcome = OutcomeDeny
		} else if result.Outcome != OutcomeDeny {
			result.Outcome = OutcomeAllow
		}
	}

	return result
}

func statementMatches(stmt *Statement, action, resource string, ctx Context) bool {
	if !actionMatches(stmt, action) {
		return false
	}
	if !resourceMatches(stmt, resource) {
		return false
	}
	return EvalConditions(stmt.Condition, ctx)
}

func actionMatches(stmt *Statement, action string) bool {
	if len(stmt.NotAction) > 0 {
		return !MatchAny(stmt.NotAction, action)
	}
	if len(stmt.Action) > 0 {
		return MatchAny(stmt.Action, action)
	}
	return false
}

func resourceMatches(stmt *Statement, resource string) bool {
	if len(stmt.NotResource) > 0 {
		return !MatchAny(stmt.NotResource, resource)
	}
	if len(stmt.Resource) > 0 {
		return MatchAny(stmt.Resource, resource)
	}
	return false
}
