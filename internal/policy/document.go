// Package policy implements the IAM policy engine: document parsing and
// validation, wildcard matching, condition evaluation, per-document statement
// evaluation, cross-policy decision aggregation, and trust evaluation for
// role assumption.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/bastionlabs/bastion/internal/apperr"
)

// DocumentVersion is the only accepted policy language version.
const DocumentVersion = "2012-10-17"

// Effect is a statement effect.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// FlexStrings unmarshals a JSON string or array of strings. The policy
// language allows both forms for Action, Resource and principal values.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = FlexStrings{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings")
	}
	*f = many
	return nil
}

func (f FlexStrings) MarshalJSON() ([]byte, error) {
	if len(f) == 1 {
		return json.Marshal(f[0])
	}
	return json.Marshal([]string(f))
}

// PrincipalType enumerates the principal categories of a trust statement.
type PrincipalType string

const (
	PrincipalAWS           PrincipalType = "AWS"
	PrincipalService       PrincipalType = "Service"
	PrincipalFederated     PrincipalType = "Federated"
	PrincipalCanonicalUser PrincipalType = "CanonicalUser"
)

// Principal maps principal types to value patterns. The bare form "*"
// expands to a wildcard under every type.
type Principal struct {
	AWS           FlexStrings
	Service       FlexStrings
	Federated     FlexStrings
	CanonicalUser FlexStrings
}

func (p *Principal) UnmarshalJSON(data []byte) error {
	var star string
	if err := json.Unmarshal(data, &star); err == nil {
		if star != "*" {
			return fmt.Errorf("principal must be %q or an object", "*")
		}
		p.AWS = FlexStrings{"*"}
		p.Service = FlexStrings{"*"}
		p.Federated = FlexStrings{"*"}
		p.CanonicalUser = FlexStrings{"*"}
		return nil
	}

	var raw map[string]FlexStrings
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("principal must be %q or an object", "*")
	}
	for key, values := range raw {
		switch PrincipalType(key) {
		case PrincipalAWS:
			p.AWS = values
		case PrincipalService:
			p.Service = values
		case PrincipalFederated:
			p.Federated = values
		case PrincipalCanonicalUser:
			p.CanonicalUser = values
		default:
			return fmt.Errorf("unknown principal type %q", key)
		}
	}
	return nil
}

func (p Principal) MarshalJSON() ([]byte, error) {
	out := make(map[string]FlexStrings, 4)
	if len(p.AWS) > 0 {
		out[string(PrincipalAWS)] = p.AWS
	}
	if len(p.Service) > 0 {
		out[string(PrincipalService)] = p.Service
	}
	if len(p.Federated) > 0 {
		out[string(PrincipalFederated)] = p.Federated
	}
	if len(p.CanonicalUser) > 0 {
		out[string(PrincipalCanonicalUser)] = p.CanonicalUser
	}
	return json.Marshal(out)
}

// Values returns the value patterns declared for a principal type.
func (p *Principal) Values(t PrincipalType) FlexStrings {
	if p == nil {
		return nil
	}
	switch t {
	case PrincipalAWS:
		return p.AWS
	case PrincipalService:
		return p.Service
	case PrincipalFederated:
		return p.Federated
	case PrincipalCanonicalUser:
		return p.CanonicalUser
	}
	return nil
}

// ConditionMap is operator name -> context key -> expected values.
type ConditionMap map[string]map[string]FlexStrings

// Statement is a single clause of a policy document.
type Statement struct {
	SID          string       `json:"Sid,omitempty"`
	Effect       Effect       `json:"Effect"`
	Action       FlexStrings  `json:"Action,omitempty"`
	NotAction    FlexStrings  `json:"NotAction,omitempty"`
	Resource     FlexStrings  `json:"Resource,omitempty"`
	NotResource  FlexStrings  `json:"NotResource,omitempty"`
	Principal    *Principal   `json:"Principal,omitempty"`
	NotPrincipal *Principal   `json:"NotPrincipal,omitempty"`
	Condition    ConditionMap `json:"Condition,omitempty"`
}

// Document is a parsed policy document.
type Document struct {
	Version   string      `json:"Version"`
	ID        string      `json:"Id,omitempty"`
	Statement []Statement `json:"Statement"`
}

// ParseDocument decodes and validates a policy document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid policy document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseTrustDocument decodes and validates a trust policy document. Trust
// statements must additionally carry a Principal or NotPrincipal.
func ParseTrustDocument(data []byte) (*Document, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	for i, stmt := range doc.Statement {
		if stmt.Principal == nil && stmt.NotPrincipal == nil {
			return nil, apperr.Validation("Statement[%d].Principal: trust statement requires a principal", i)
		}
	}
	return doc, nil
}

// Validate checks the structural rules of the policy language. Errors carry
// the path of the offending element.
func (d *Document) Validate() error {
	if d.Version == "" {
		return apperr.Validation("Version: required")
	}
	if d.Version != DocumentVersion {
		return apperr.Validation("Version: must be %q, got %q", DocumentVersion, d.Version)
	}
	if len(d.Statement) == 0 {
		return apperr.Validation("Statement: must contain at least one statement")
	}
	for i, stmt := range d.Statement {
		if err := validateStatement(i, &stmt); err != nil {
			return err
		}
	}
	return nil
}

func validateStatement(idx int, stmt *Statement) error {
	switch stmt.Effect {
	case EffectAllow, EffectDeny:
	case "":
		return apperr.Validation("Statement[%d].Effect: required", idx)
	default:
		return apperr.Validation("Statement[%d].Effect: must be %q or %q, got %q", idx, EffectAllow, EffectDeny, stmt.Effect)
	}

	if len(stmt.Action) == 0 && len(stmt.NotAction) == 0 {
		return apperr.Validation("Statement[%d].Action: required", idx)
	}
	if len(stmt.Action) > 0 && len(stmt.NotAction) > 0 {
		return apperr.Validation("Statement[%d].Action: Action and NotAction are mutually exclusive", idx)
	}
	for j, action := range stmt.Action {
		if action == "" {
			return apperr.Validation("Statement[%d].Action[%d]: must not be empty", idx, j)
		}
	}
	for j, action := range stmt.NotAction {
		if action == "" {
			return apperr.Validation("Statement[%d].NotAction[%d]: must not be empty", idx, j)
		}
	}

	if len(stmt.Resource) > 0 && len(stmt.NotResource) > 0 {
		return apperr.Validation("Statement[%d].Resource: Resource and NotResource are mutually exclusive", idx)
	}
	for j, resource := range stmt.Resource {
		if err := ValidateResourcePattern(resource); err != nil {
			return apperr.Validation("Statement[%d].Resource[%d]: %v", idx, j, err)
		}
	}
	for j, resource := range stmt.NotResource {
		if err := ValidateResourcePattern(resource); err != nil {
			return apperr.Validation("Statement[%d].NotResource[%d]: %v", idx, j, err)
		}
	}

	for op, block := range stmt.Condition {
		if op == "" {
			return apperr.Validation("Statement[%d].Condition: operator name must not be empty", idx)
		}
		if len(block) == 0 {
			return apperr.Validation("Statement[%d].Condition[%s]: must map context keys to expected values", idx, op)
		}
		for key, values := range block {
			if len(values) == 0 {
				return apperr.Validation("Statement[%d].Condition[%s][%s]: expected values must not be empty", idx, op, key)
			}
		}
	}

	return nil
}
