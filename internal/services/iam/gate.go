package iam

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/auth"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/revocation"
	"github.com/bastionlabs/bastion/internal/services/sts"
	"github.com/bastionlabs/bastion/internal/telemetry"
)

// contextHeaderPrefix marks request headers that pass straight through into
// the condition context as x-context-<key> → <key>.
const contextHeaderPrefix = "x-context-"

// AccessRequest is one authorization question: may the bearer of Token
// perform Action on Resource under Context?
type AccessRequest struct {
	Token    string
	Action   string
	Resource string
	Context  policy.Context
}

// RequestMeta is transport-level metadata folded into the condition context.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
	Region    string
	Headers   map[string]string
}

// Gate is the single entry point for authorization decisions. Every check
// runs the same pipeline: token validation, revocation, root short-circuit,
// policy resolution, evaluation, decision.
type Gate struct {
	issuer   *sts.Issuer
	revoker  *revocation.Store
	roles    repository.RoleRepository
	resolver *Resolver
	clock    clockwork.Clock
}

// NewGate creates an authorization gate. A nil clock falls back to wall time.
func NewGate(issuer *sts.Issuer, revoker *revocation.Store, roles repository.RoleRepository, resolver *Resolver, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{
		issuer:   issuer,
		revoker:  revoker,
		roles:    roles,
		resolver: resolver,
		clock:    clock,
	}
}

// Authorize runs the full decision pipeline for one request.
//
// Revoked or invalid tokens deny before any policy work. Holders of the root
// role bypass policy evaluation entirely. Everything else is decided by the
// effective policy set: explicit deny wins, then explicit allow, then
// default deny.
func (g *Gate) Authorize(ctx context.Context, req AccessRequest) (*policy.Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Authorize",
		attribute.String(telemetry.AttrPolicyAction, req.Action),
		attribute.String(telemetry.AttrPolicyResource, req.Resource),
	)
	defer span.End()

	ctx, claims, err := g.authenticate(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	isRoot, err := g.hasRootRole(ctx, claims)
	if err != nil {
		return nil, err
	}
	if isRoot {
		decision := &policy.Decision{
			Effect: policy.DecisionAllow,
			Reason: "principal holds the root role",
		}
		g.recordDecision(span, decision)
		return decision, nil
	}

	resolved, err := g.resolver.Resolve(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	evalCtx := g.withAmbientKeys(req.Context, claims)
	evals := make([]policy.PolicyEvaluation, 0, len(resolved))
	for _, rp := range resolved {
		evals = append(evals, policy.PolicyEvaluation{
			PolicyID:   rp.Policy.ID,
			PolicyName: rp.Policy.Name,
			Result:     policy.Evaluate(rp.Document, req.Action, req.Resource, evalCtx),
		})
	}

	decision := policy.Decide(evals)
	g.recordDecision(span, decision)
	return decision, nil
}

// Authenticate validates a bearer token and returns a context carrying the
// principal, for transports that separate authentication from authorization.
func (g *Gate) Authenticate(ctx context.Context, token string) (context.Context, *auth.Principal, error) {
	ctx, _, err := g.authenticate(ctx, token)
	if err != nil {
		return ctx, nil, err
	}
	principal, _ := auth.PrincipalFrom(ctx)
	return ctx, principal, nil
}

// authenticate parses the token, checks revocation, and attaches the
// principal to the context.
func (g *Gate) authenticate(ctx context.Context, token string) (context.Context, *sts.AccessClaims, error) {
	claims, err := g.issuer.ParseAccess(token)
	if err != nil {
		return ctx, nil, err
	}

	revoked, err := g.revoker.IsRevoked(ctx, token)
	if err != nil {
		return ctx, nil, err
	}
	if revoked {
		return ctx, nil, apperr.Authentication("token has been revoked")
	}

	ctx = auth.WithPrincipal(ctx, &auth.Principal{
		UserID:    claims.UserID,
		AccountID: claims.AccountID,
		Username:  claims.Username,
		IsRoot:    claims.IsRoot,
	})
	return ctx, claims, nil
}

// BuildContext turns transport metadata into a condition context. Unknown
// x-context-* headers pass through under their suffix key.
func (g *Gate) BuildContext(meta RequestMeta) policy.Context {
	evalCtx := policy.Context{
		"aws:CurrentTime": g.clock.Now().UTC().Format(time.RFC3339),
	}
	if meta.SourceIP != "" {
		evalCtx["aws:SourceIp"] = meta.SourceIP
	}
	if meta.UserAgent != "" {
		evalCtx["aws:UserAgent"] = meta.UserAgent
	}
	if meta.Region != "" {
		evalCtx["aws:RequestedRegion"] = meta.Region
	}
	for name, value := range meta.Headers {
		lower := strings.ToLower(name)
		if key, ok := strings.CutPrefix(lower, contextHeaderPrefix); ok && key != "" {
			evalCtx[key] = value
		}
	}
	return evalCtx
}

// hasRootRole reports whether the principal bypasses policy evaluation. The
// claim covers account root users; the role lookup covers delegated root
// grants.
func (g *Gate) hasRootRole(ctx context.Context, claims *sts.AccessClaims) (bool, error) {
	if claims.IsRoot {
		return true, nil
	}
	roles, err := g.roles.ListRolesForUser(ctx, claims.UserID)
	if err != nil {
		return false, err
	}
	for i := range roles {
		if roles[i].Name == models.RootRoleName && roles[i].IsSystem() {
			return true, nil
		}
	}
	return false, nil
}

// withAmbientKeys fills in principal-derived condition keys without
// overwriting caller-supplied ones.
func (g *Gate) withAmbientKeys(base policy.Context, claims *sts.AccessClaims) policy.Context {
	evalCtx := policy.Context{
		"aws:PrincipalAccount": claims.AccountID,
		"aws:username":         claims.Username,
	}
	if _, ok := base["aws:CurrentTime"]; !ok {
		evalCtx["aws:CurrentTime"] = g.clock.Now().UTC().Format(time.RFC3339)
	}
	for k, v := range base {
		evalCtx[k] = v
	}
	return evalCtx
}

func (g *Gate) recordDecision(span trace.Span, decision *policy.Decision) {
	telemetry.AddEvent(span, "authorization.decided",
		attribute.String(telemetry.AttrPolicyDecision, string(decision.Effect)),
	)
}
