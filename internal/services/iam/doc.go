// Package iam implements tenant administration and authorization.
//
// The package has three entry points:
//
//   - Service: account, user, group, role, policy, and permission
//     administration, plus login, refresh-token rotation, and logout. Every
//     operation is scoped to a tenant account.
//   - Resolver: computes the effective policy set of a user by walking
//     direct, group, and role attachments.
//   - Gate: answers authorization questions by validating the caller's
//     token, resolving policies, and applying deny-overrides precedence.
//
// Role assumption and session tokens live in the sts package; token
// revocation lives in the revocation package.
package iam
