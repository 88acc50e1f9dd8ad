package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{"universal wildcard", "*", "anything:at-all", true},
		{"exact match", "s3:GetObject", "s3:GetObject", true},
		{"exact mismatch", "s3:GetObject", "s3:PutObject", false},
		{"service wildcard", "s3:*", "s3:GetObject", true},
		{"service wildcard wrong service", "s3:*", "iam:CreateUser", false},
		{"trailing star", "s3:Get*", "s3:GetObject", true},
		{"trailing star no match", "s3:Get*", "s3:PutObject", false},
		{"interior star", "arn:aws:s3:::bucket/*", "arn:aws:s3:::bucket/key/deep", true},
		{"question mark", "s3:Get?bject", "s3:GetObject", true},
		{"question mark one rune only", "s3:Get?", "s3:GetXY", false},
		{"case sensitive", "s3:getobject", "s3:GetObject", false},
		{"regex metachars are literal", "a.b+c", "a.b+c", true},
		{"regex metachars do not match", "a.b", "axb", false},
		{"empty pattern", "", "", true},
		{"empty pattern nonempty value", "", "x", false},
		{"star matches empty", "s3:*", "s3:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.value))
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := FlexStrings{"s3:Get*", "s3:List*"}

	assert.True(t, MatchAny(patterns, "s3:GetObject"))
	assert.True(t, MatchAny(patterns, "s3:ListBucket"))
	assert.False(t, MatchAny(patterns, "s3:PutObject"))
	assert.False(t, MatchAny(nil, "s3:GetObject"))
}
