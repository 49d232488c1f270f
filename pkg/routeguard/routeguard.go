// Package routeguard decides whether a signed-in user may open an
// application route, and where to send them when they may not.
package routeguard

import (
	"path"
	"slices"
	"strings"

	"github.com/txn2/academy-client/pkg/program"
)

// Redirect targets.
const (
	LoginPath         = "/login"
	UnauthorizedPath  = "/unauthorized"
	SelectProgramPath = "/select-program"
)

// Rule restricts a route and everything below it.
type Rule struct {
	Path string `yaml:"path" json:"path"`

	// AllowedRoles lists the roles that may open the route. Empty means
	// any signed-in user.
	AllowedRoles []program.Role `yaml:"allowed_roles" json:"allowed_roles"`

	// RequiresProgram demands an active program the user can access.
	RequiresProgram bool `yaml:"requires_program" json:"requires_program"`
}

// Allows reports whether role may open the route.
func (r Rule) Allows(role program.Role) bool {
	return len(r.AllowedRoles) == 0 || slices.Contains(r.AllowedRoles, role)
}

var (
	staffRoles = []program.Role{
		program.RoleSuperAdmin, program.RoleProgramAdmin, program.RoleProgramCoordinator,
		program.RoleInstructor, program.RoleStaff,
	}
	adminRoles = []program.Role{program.RoleSuperAdmin, program.RoleProgramAdmin}
)

// DefaultRules is the academy route table.
var DefaultRules = []Rule{
	{Path: "/dashboard", RequiresProgram: true},
	{Path: "/profile"},
	{Path: SelectProgramPath},
	{Path: "/admin", AllowedRoles: adminRoles},
	{Path: "/admin/programs", AllowedRoles: []program.Role{program.RoleSuperAdmin}},
	{Path: "/programs", AllowedRoles: adminRoles},
	{Path: "/users", AllowedRoles: adminRoles},
	{Path: "/students", AllowedRoles: staffRoles, RequiresProgram: true},
	{Path: "/courses", AllowedRoles: staffRoles, RequiresProgram: true},
	{
		Path: "/facilities",
		AllowedRoles: []program.Role{
			program.RoleSuperAdmin, program.RoleProgramAdmin,
			program.RoleProgramCoordinator, program.RoleStaff,
		},
		RequiresProgram: true,
	},
	{Path: "/communications", RequiresProgram: true},
	{Path: "/parent", AllowedRoles: []program.Role{program.RoleParent}, RequiresProgram: true},
}

// DefaultPublicPaths are reachable without signing in.
var DefaultPublicPaths = []string{LoginPath, UnauthorizedPath, "/forgot-password"}

// Subject is the signed-in user as seen by the guard.
type Subject struct {
	Role        program.Role
	ProgramID   string
	Assignments []program.Assignment
}

// Decision is the outcome of evaluating a route.
type Decision struct {
	Allowed  bool
	Redirect string
	Reason   string
	Rule     *Rule
}

// Guard evaluates routes against a rule table.
type Guard struct {
	rules  []Rule
	public []string
}

// New creates a Guard. A nil rules slice selects DefaultRules and a nil
// public slice selects DefaultPublicPaths.
func New(rules []Rule, public []string) *Guard {
	if rules == nil {
		rules = DefaultRules
	}
	if public == nil {
		public = DefaultPublicPaths
	}
	g := &Guard{
		rules:  make([]Rule, len(rules)),
		public: make([]string, len(public)),
	}
	for i, r := range rules {
		r.Path = clean(r.Path)
		g.rules[i] = r
	}
	for i, p := range public {
		g.public[i] = clean(p)
	}
	return g
}

// Match returns the most specific rule covering p, or nil.
func (g *Guard) Match(p string) *Rule {
	p = clean(p)
	var best *Rule
	for i := range g.rules {
		r := &g.rules[i]
		if !covers(r.Path, p) {
			continue
		}
		if best == nil || len(r.Path) > len(best.Path) {
			best = r
		}
	}
	return best
}

// Evaluate decides whether sub may open p. A nil sub is a visitor who has
// not signed in. Routes without a rule only require a session.
func (g *Guard) Evaluate(p string, sub *Subject) Decision {
	p = clean(p)
	for _, pub := range g.public {
		if covers(pub, p) {
			return Decision{Allowed: true}
		}
	}

	if sub == nil {
		return Decision{Redirect: LoginPath, Reason: "not signed in"}
	}

	rule := g.Match(p)
	if rule == nil {
		return Decision{Allowed: true}
	}
	if !rule.Allows(sub.Role) {
		return Decision{
			Redirect: UnauthorizedPath,
			Reason:   "role " + string(sub.Role) + " may not open " + rule.Path,
			Rule:     rule,
		}
	}
	if rule.RequiresProgram {
		if sub.ProgramID == "" {
			return Decision{Redirect: SelectProgramPath, Reason: "no program selected", Rule: rule}
		}
		if !program.CanAccess(sub.Role, sub.ProgramID, sub.Assignments) {
			return Decision{
				Redirect: SelectProgramPath,
				Reason:   "no access to program " + sub.ProgramID,
				Rule:     rule,
			}
		}
	}
	return Decision{Allowed: true, Rule: rule}
}

// covers reports whether prefix equals p or is a parent segment of it.
func covers(prefix, p string) bool {
	if prefix == "/" || prefix == p {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

func clean(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
