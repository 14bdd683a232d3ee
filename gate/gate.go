package gate

import (
	"fmt"
	"path"
	"strings"

	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/token"
)

type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
	RedirectToHome
	Reject
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToHome:
		return "redirect_to_home"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Requirement is what a route demands of the caller.
type Requirement int

const (
	Public Requirement = iota
	RequireAuthenticated
	RequireAdmin
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "public"
	case RequireAuthenticated:
		return "authenticated"
	case RequireAdmin:
		return "admin"
	}
	return fmt.Sprintf("Requirement(%d)", int(r))
}

// Reason qualifies a denial.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnauthenticated
	ReasonForbidden
)

// Rule binds a path prefix to a requirement. Prefixes match whole path
// segments: "/admin" covers "/admin" and "/admin/x" but not "/administrator".
type Rule struct {
	Prefix      string
	Requirement Requirement
}

// DefaultPolicy is the storefront's route table. Anything unmatched is public.
var DefaultPolicy = []Rule{
	{Prefix: "/admin", Requirement: RequireAdmin},
	{Prefix: "/account", Requirement: RequireAuthenticated},
	{Prefix: "/orders", Requirement: RequireAuthenticated},
}

var publicRule = Rule{Prefix: "/", Requirement: Public}

// Verifier checks an access token without I/O. *token.Issuer satisfies it.
type Verifier interface {
	Verify(raw string) (*token.AccessToken, error)
}

type Request struct {
	Path     string
	RawToken string
	API      bool // bearer callers get Reject instead of redirects
}

type Result struct {
	Decision Decision
	Identity *identity.Identity // set whenever a valid token was presented
	Rule     Rule
	Reason   Reason
}

// Gate evaluates requests against an ordered policy; the first matching rule wins.
type Gate struct {
	verifier Verifier
	policy   []Rule
}

// New builds a gate, refusing any policy containing a (requirement, role)
// combination the grant table does not handle.
func New(verifier Verifier, policy []Rule) (*Gate, error) {
	if verifier == nil {
		return nil, fmt.Errorf("gate requires a token verifier")
	}

	seen := make(map[string]struct{}, len(policy))
	rules := make([]Rule, 0, len(policy))
	for _, rule := range policy {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return nil, fmt.Errorf("rule prefix %q must start with /", rule.Prefix)
		}
		prefix := normalisePath(rule.Prefix)
		if _, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("duplicate rule for prefix %q", prefix)
		}
		seen[prefix] = struct{}{}

		for _, role := range identity.Roles() {
			if _, err := grants(rule.Requirement, role); err != nil {
				return nil, fmt.Errorf("rule %q: %w", prefix, err)
			}
		}
		rules = append(rules, Rule{Prefix: prefix, Requirement: rule.Requirement})
	}

	return &Gate{verifier: verifier, policy: rules}, nil
}

// Policy returns a copy of the rule table.
func (g *Gate) Policy() []Rule {
	return append([]Rule(nil), g.policy...)
}

// Evaluate classifies one request. Expired or invalid tokens count as absent.
func (g *Gate) Evaluate(req Request) Result {
	rule := g.match(req.Path)
	result := Result{Rule: rule}

	if req.RawToken != "" {
		if at, err := g.verifier.Verify(req.RawToken); err == nil {
			id := at.Claims
			result.Identity = &id
		}
	}

	switch {
	case rule.Requirement == Public:
		result.Decision = Allow
	case result.Identity == nil:
		result.Reason = ReasonUnauthenticated
		result.Decision = RedirectToLogin
	default:
		// New has already proved every (requirement, role) pair is handled.
		granted, _ := grants(rule.Requirement, result.Identity.Role)
		if granted {
			result.Decision = Allow
		} else {
			result.Reason = ReasonForbidden
			result.Decision = RedirectToHome
		}
	}

	if req.API && result.Decision != Allow {
		result.Decision = Reject
	}

	metrics.GateDecisions.WithLabelValues(rule.Requirement.String(), result.Decision.String()).Inc()
	return result
}

func (g *Gate) match(p string) Rule {
	p = normalisePath(p)
	for _, rule := range g.policy {
		if matchesPrefix(p, rule.Prefix) {
			return rule
		}
	}
	return publicRule
}

func matchesPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// normalisePath cleans dot segments and duplicate slashes so "/x/../admin"
// cannot slip past the "/admin" rule.
func normalisePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// grants is the exhaustive (requirement, role) table. An unhandled pair is an
// error, never a silent allow or deny.
func grants(req Requirement, role identity.Role) (bool, error) {
	switch req {
	case Public:
		switch role {
		case identity.RoleUser, identity.RoleAdmin:
			return true, nil
		}
	case RequireAuthenticated:
		switch role {
		case identity.RoleUser, identity.RoleAdmin:
			return true, nil
		}
	case RequireAdmin:
		switch role {
		case identity.RoleUser:
			return false, nil
		case identity.RoleAdmin:
			return true, nil
		}
	}
	return false, fmt.Errorf("no grant defined for requirement %s and role %s", req, role)
}
