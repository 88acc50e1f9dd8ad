package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestEvaluate(t *testing.T) {
	t.Run("allow statement matches", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Sid": "ReadBucket", "Effect": "Allow", "Action": "s3:Get*", "Resource": "arn:aws:s3:::data/*"}
			]
		}`)

		res := Evaluate(doc, "s3:GetObject", "arn:aws:s3:::data/report.csv", nil)
		assert.Equal(t, OutcomeAllow, res.Outcome)
		require.Len(t, res.MatchedStatements, 1)
		assert.Equal(t, "ReadBucket", res.MatchedStatements[0].SID)
	})

	t.Run("no statement matches", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "s3:Get*", "Resource": "arn:aws:s3:::data/*"}
			]
		}`)

		res := Evaluate(doc, "s3:PutObject", "arn:aws:s3:::data/report.csv", nil)
		assert.Equal(t, OutcomeNoMatch, res.Outcome)
		assert.Empty(t, res.MatchedStatements)
	})

	t.Run("deny dominates allow within a document", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "*", "Resource": "*"},
				{"Effect": "Deny", "Action": "iam:*", "Resource": "*"}
			]
		}`)

		res := Evaluate(doc, "iam:CreateUser", "arn:aws:iam::acct-1:user/bob", nil)
		assert.Equal(t, OutcomeDeny, res.Outcome)
		assert.Len(t, res.MatchedStatements, 2)
	})

	t.Run("deny before allow still denies", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Deny", "Action": "iam:*", "Resource": "*"},
				{"Effect": "Allow", "Action": "*", "Resource": "*"}
			]
		}`)

		res := Evaluate(doc, "iam:CreateUser", "arn:aws:iam::acct-1:user/bob", nil)
		assert.Equal(t, OutcomeDeny, res.Outcome)
	})

	t.Run("NotAction inverts the action match", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "NotAction": "iam:*", "Resource": "*"}
			]
		}`)

		assert.Equal(t, OutcomeAllow, Evaluate(doc, "s3:GetObject", "arn:aws:s3:::b/k", nil).Outcome)
		assert.Equal(t, OutcomeNoMatch, Evaluate(doc, "iam:CreateUser", "arn:aws:iam::a:user/u", nil).Outcome)
	})

	t.Run("NotResource inverts the resource match", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "s3:*", "NotResource": "arn:aws:s3:::secrets/*"}
			]
		}`)

		assert.Equal(t, OutcomeAllow, Evaluate(doc, "s3:GetObject", "arn:aws:s3:::data/k", nil).Outcome)
		assert.Equal(t, OutcomeNoMatch, Evaluate(doc, "s3:GetObject", "arn:aws:s3:::secrets/k", nil).Outcome)
	})

	t.Run("condition gates the match", func(t *testing.T) {
		doc := mustParse(t, `{
			"Version": "2012-10-17",
			"Statement": [{
				"Effect": "Allow",
				"Action": "s3:GetObject",
				"Resource": "*",
				"Condition": {"IpAddress": {"aws:SourceIp": "10.0.0.0/8"}}
			}]
		}`)

		inside := Context{"aws:SourceIp": "10.1.1.1"}
		outside := Context{"aws:SourceIp": "8.8.8.8"}
		assert.Equal(t, OutcomeAllow, Evaluate(doc, "s3:GetObject", "arn:aws:s3:::b/k", inside).Outcome)
		assert.Equal(t, OutcomeNoMatch, Evaluate(doc, "s3:GetObject", "arn:aws:s3:::b/k", outside).Outcome)
	})
}

func TestDecide(t *testing.T) {
	allowDoc := mustParse(t, `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "s3:*", "Resource": "*"}]
	}`)
	denyDoc := mustParse(t, `{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Deny", "Action": "s3:DeleteObject", "Resource": "*"}]
	}`)

	evalOf := func(id, name string, doc *Document, action string) PolicyEvaluation {
		return PolicyEvaluation{
			PolicyID:   id,
			PolicyName: name,
			Result:     Evaluate(doc, action, "arn:aws:s3:::b/k", nil),
		}
	}

	t.Run("explicit deny wins across policies", func(t *testing.T) {
		decision := Decide([]PolicyEvaluation{
			evalOf("p1", "allow-s3", allowDoc, "s3:DeleteObject"),
			evalOf("p2", "deny-delete", denyDoc, "s3:DeleteObject"),
		})

		assert.Equal(t, DecisionDeny, decision.Effect)
		assert.False(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "deny-delete")
	})

	t.Run("allow without deny allows", func(t *testing.T) {
		decision := Decide([]PolicyEvaluation{
			evalOf("p1", "allow-s3", allowDoc, "s3:GetObject"),
			evalOf("p2", "deny-delete", denyDoc, "s3:GetObject"),
		})

		assert.Equal(t, DecisionAllow, decision.Effect)
		assert.True(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "allow-s3")
	})

	t.Run("no match defaults to deny", func(t *testing.T) {
		decision := Decide([]PolicyEvaluation{
			evalOf("p1", "allow-s3", allowDoc, "iam:CreateUser"),
		})

		assert.Equal(t, DecisionDeny, decision.Effect)
		assert.Contains(t, decision.Reason, "default deny")
		assert.Empty(t, decision.MatchedPolicies)
	})

	t.Run("empty policy set defaults to deny", func(t *testing.T) {
		decision := Decide(nil)
		assert.Equal(t, DecisionDeny, decision.Effect)
	})

	t.Run("matched policies carry the audit trail", func(t *testing.T) {
		decision := Decide([]PolicyEvaluation{
			evalOf("p1", "allow-s3", allowDoc, "s3:DeleteObject"),
			evalOf("p2", "deny-delete", denyDoc, "s3:DeleteObject"),
		})

		require.Len(t, decision.MatchedPolicies, 2)
		assert.Equal(t, "p1", decision.MatchedPolicies[0].PolicyID)
		assert.Equal(t, EffectAllow, decision.MatchedPolicies[0].Effect)
		assert.Equal(t, "p2", decision.MatchedPolicies[1].PolicyID)
		assert.Equal(t, EffectDeny, decision.MatchedPolicies[1].Effect)
	})
}
