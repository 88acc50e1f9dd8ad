package policy

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// ValidateResourcePattern checks a Resource element: either the universal
// wildcard or an ARN-shaped pattern. Wildcards are legal inside any segment,
// so the check validates structure, not segment content.
func ValidateResourcePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("must not be empty")
	}
	if pattern == "*" {
		return nil
	}
	if !arn.IsARN(pattern) {
		return fmt.Errorf("must be %q or an ARN pattern, got %q", "*", pattern)
	}
	parsed, err := arn.Parse(pattern)
	if err != nil {
		return fmt.Errorf("invalid ARN pattern %q: %v", pattern, err)
	}
	if parsed.Partition == "" || parsed.Resource == "" {
		return fmt.Errorf("invalid ARN pattern %q: partition and resource are required", pattern)
	}
	return nil
}

// UserARN builds the canonical principal ARN for an account user. This is
// the identity trust documents name under the AWS principal type.
func UserARN(accountID, username string) string {
	return fmt.Sprintf("arn:aws:iam::%s:user/%s", accountID, username)
}

// RoleARN builds the canonical ARN for a role.
func RoleARN(accountID, roleName string) string {
	if accountID == "" {
		accountID = "aws"
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

// AssumedRoleARN builds the session principal ARN issued by AssumeRole.
func AssumedRoleARN(accountID, roleName, sessionName string) string {
	return fmt.Sprintf("arn:aws:sts::%s:assumed-role/%s/%s", accountID, roleName, sessionName)
}

// AccountFromARN extracts the account segment of an ARN, or "" when the
// value does not parse.
func AccountFromARN(arnStr string) string {
	parsed, err := arn.Parse(arnStr)
	if err != nil {
		return ""
	}
	return parsed.AccountID
}

// UsernameFromARN extracts the username from a user ARN, or "" for any
// other principal shape.
func UsernameFromARN(arnStr string) string {
	parsed, err := arn.Parse(arnStr)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(parsed.Resource, "user/") {
		return ""
	}
	return strings.TrimPrefix(parsed.Resource, "user/")
}
