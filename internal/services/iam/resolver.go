package iam

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/telemetry"
)

// ResolvedPolicy is one policy in a principal's effective set, with its
// document already parsed and any linked permission rows folded in.
type ResolvedPolicy struct {
	Policy   *models.Policy
	Document *policy.Document

	// Source records where the attachment came from: "user", "group:<name>",
	// or "role:<name>".
	Source string
}

// Resolver computes the effective policy set of a user.
//
// Resolution walks three legs in a fixed order:
//  1. policies attached directly to the user
//  2. policies attached to the user's groups
//  3. policies attached to the user's roles, both standing assignments and
//     roles held through active sessions
//
// Duplicates keep their first occurrence, so a policy reachable through
// several legs is evaluated once with its earliest source.
type Resolver struct {
	policies repository.PolicyRepository
	groups   repository.GroupRepository
	roles    repository.RoleRepository
	sessions repository.SessionRepository
}

// NewResolver creates a policy resolver.
func NewResolver(
	policies repository.PolicyRepository,
	groups repository.GroupRepository,
	roles repository.RoleRepository,
	sessions repository.SessionRepository,
) *Resolver {
	return &Resolver{
		policies: policies,
		groups:   groups,
		roles:    roles,
		sessions: sessions,
	}
}

// Resolve returns the deduplicated effective policy set for a user.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]ResolvedPolicy, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Resolve")
	defer span.End()

	seen := make(map[string]bool)
	var resolved []ResolvedPolicy

	add := func(policies []models.Policy, source func(i int) string) error {
		for i := range policies {
			p := &policies[i]
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			rp, err := r.compile(ctx, p, source(i))
			if err != nil {
				return err
			}
			resolved = append(resolved, rp)
		}
		return nil
	}

	// Leg 1: direct attachments.
	direct, err := r.policies.ListAttachedToUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user policies: %w", err)
	}
	if err := add(direct, func(int) string { return "user" }); err != nil {
		return nil, err
	}

	// Leg 2: group attachments, in membership order.
	groups, err := r.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve groups: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		attached, err := r.policies.ListAttachedToGroups(ctx, []string{g.ID})
		if err != nil {
			return nil, fmt.Errorf("resolve group policies: %w", err)
		}
		if err := add(attached, func(int) string { return "group:" + g.Name }); err != nil {
			return nil, err
		}
	}

	// Leg 3: role attachments, standing grants first, then session roles.
	roles, err := r.effectiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		role := &roles[i]
		attached, err := r.policies.ListAttachedToRoles(ctx, []string{role.ID})
		if err != nil {
			return nil, fmt.Errorf("resolve role policies: %w", err)
		}
		if err := add(attached, func(int) string { return "role:" + role.Name }); err != nil {
			return nil, err
		}
	}

	telemetry.AddEvent(span, "policies.resolved",
		attribute.Int("policy.count", len(resolved)),
	)
	return resolved, nil
}

// effectiveRoles unions standing role grants with roles held through active
// sessions, preserving first occurrence.
func (r *Resolver) effectiveRoles(ctx context.Context, userID string) ([]models.Role, error) {
	roles, err := r.roles.ListRolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve role grants: %w", err)
	}

	have := make(map[string]bool, len(roles))
	for i := range roles {
		have[roles[i].ID] = true
	}

	sessions, err := r.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve session roles: %w", err)
	}
	for i := range sessions {
		roleID := sessions[i].RoleID
		if have[roleID] {
			continue
		}
		have[roleID] = true
		role, err := r.roles.GetByID(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("resolve session role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, nil
}

// compile parses the policy document and appends one synthetic statement per
// linked permission row, so granular grants participate in the same
// evaluation as document statements.
func (r *Resolver) compile(ctx context.Context, p *models.Policy, source string) (ResolvedPolicy, error) {
	doc, err := policy.ParseDocument(p.Document)
	if err != nil {
		return ResolvedPolicy{}, fmt.Errorf("parse policy %s: %w", p.Name, err)
	}

	perms, err := r.policies.ListPermissions(ctx, p.ID)
	if err != nil {
		return ResolvedPolicy{}, fmt.Errorf("load permissions for policy %s: %w", p.Name, err)
	}
	for i := range perms {
		stmt, err := permissionStatement(&perms[i])
		if err != nil {
			return ResolvedPolicy{}, fmt.Errorf("compile permission %s: %w", perms[i].ID, err)
		}
		doc.Statement = append(doc.Statement, stmt)
	}

	return ResolvedPolicy{Policy: p, Document: doc, Source: source}, nil
}

// permissionStatement turns a permission row into an equivalent statement.
func permissionStatement(perm *models.Permission) (policy.Statement, error) {
	stmt := policy.Statement{
		SID:      "perm-" + perm.ID,
		Effect:   policy.Effect(perm.Effect),
		Action:   policy.FlexStrings{perm.Service + ":" + perm.Action},
		Resource: policy.FlexStrings{perm.ResourcePattern},
	}
	if len(perm.Conditions) > 0 && string(perm.Conditions) != "null" {
		var cond policy.ConditionMap
		if err := json.Unmarshal(perm.Conditions, &cond); err != nil {
			return policy.Statement{}, fmt.Errorf("parse conditions: %w", err)
		}
		stmt.Condition = cond
	}
	return stmt, nil
}
