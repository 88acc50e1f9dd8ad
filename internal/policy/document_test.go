package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionlabs/bastion/internal/apperr"
)

func TestParseDocument(t *testing.T) {
	t.Run("string and array forms are equivalent", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "s3:GetObject", "Resource": ["arn:aws:s3:::bucket/*"]}
			]
		}`))
		require.NoError(t, err)
		require.Len(t, doc.Statement, 1)
		assert.Equal(t, FlexStrings{"s3:GetObject"}, doc.Statement[0].Action)
		assert.Equal(t, FlexStrings{"arn:aws:s3:::bucket/*"}, doc.Statement[0].Resource)
	})

	t.Run("deny effect parsed", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [{"Effect": "Deny", "Action": "*", "Resource": "*"}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, EffectDeny, doc.Statement[0].Effect)
	})

	t.Run("bare statement object rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": {"Effect": "Deny", "Action": "*", "Resource": "*"}
		}`))
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("wrong version rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{
			"Version": "2008-10-17",
			"Statement": [{"Effect": "Allow", "Action": "*", "Resource": "*"}]
		}`))
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("empty statement list rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"Version": "2012-10-17", "Statement": []}`))
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("invalid effect rejected with path", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "*", "Resource": "*"},
				{"Effect": "Maybe", "Action": "*", "Resource": "*"}
			]
		}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Statement[1]")
	})

	t.Run("action and notaction are mutually exclusive", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [
				{"Effect": "Allow", "Action": "s3:*", "NotAction": "iam:*", "Resource": "*"}
			]
		}`))
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{`))
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})
}

func TestParseTrustDocument(t *testing.T) {
	t.Run("requires a principal", func(t *testing.T) {
		_, err := ParseTrustDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [{"Effect": "Allow", "Action": "sts:AssumeRole", "Resource": "*"}]
		}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Principal")
	})

	t.Run("accepts principal map", func(t *testing.T) {
		doc, err := ParseTrustDocument([]byte(`{
			"Version": "2012-10-17",
			"Statement": [{
				"Effect": "Allow",
				"Principal": {"AWS": "arn:aws:iam::acct-1:user/alice"},
				"Action": "sts:AssumeRole",
				"Resource": "*"
			}]
		}`))
		require.NoError(t, err)
		require.NotNil(t, doc.Statement[0].Principal)
		assert.Equal(t, FlexStrings{"arn:aws:iam::acct-1:user/alice"}, doc.Statement[0].Principal.Values(PrincipalAWS))
	})
}

func TestPrincipalUnmarshal(t *testing.T) {
	t.Run("star expands to every principal type", func(t *testing.T) {
		var p Principal
		require.NoError(t, json.Unmarshal([]byte(`"*"`), &p))
		for _, typ := range []PrincipalType{PrincipalAWS, PrincipalService, PrincipalFederated, PrincipalCanonicalUser} {
			assert.Equal(t, FlexStrings{"*"}, p.Values(typ), "type %s", typ)
		}
	})

	t.Run("unknown principal type rejected", func(t *testing.T) {
		var p Principal
		err := json.Unmarshal([]byte(`{"Martian": "zork"}`), &p)
		assert.Error(t, err)
	})

	t.Run("typed values stay scoped to their type", func(t *testing.T) {
		var p Principal
		require.NoError(t, json.Unmarshal([]byte(`{"Service": ["lambda.amazonaws.com"]}`), &p))
		assert.Equal(t, FlexStrings{"lambda.amazonaws.com"}, p.Values(PrincipalService))
		assert.Empty(t, p.Values(PrincipalAWS))
	})
}

func TestFlexStringsMarshal(t *testing.T) {
	t.Run("single value marshals to string", func(t *testing.T) {
		data, err := json.Marshal(FlexStrings{"one"})
		require.NoError(t, err)
		assert.JSONEq(t, `"one"`, string(data))
	})

	t.Run("multiple values marshal to array", func(t *testing.T) {
		data, err := json.Marshal(FlexStrings{"one", "two"})
		require.NoError(t, err)
		assert.JSONEq(t, `["one","two"]`, string(data))
	})
}
