package routeguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/academy-client/pkg/program"
)

func coordinator(programID string) *Subject {
	return &Subject{
		Role:      program.RoleProgramCoordinator,
		ProgramID: programID,
		Assignments: []program.Assignment{
			{ProgramID: "prog-1", Role: program.RoleProgramCoordinator},
		},
	}
}

func TestGuard_Evaluate(t *testing.T) {
	g := New(nil, nil)

	tests := []struct {
		name     string
		path     string
		sub      *Subject
		allowed  bool
		redirect string
	}{
		{name: "public page without session", path: "/login", allowed: true},
		{name: "public page with query", path: "/login?next=/students", allowed: true},
		{name: "guarded page without session", path: "/students", redirect: LoginPath},
		{name: "unlisted page without session", path: "/help", redirect: LoginPath},
		{name: "unlisted page with session", path: "/help", sub: coordinator(""), allowed: true},
		{name: "coordinator in assigned program", path: "/students", sub: coordinator("prog-1"), allowed: true},
		{name: "nested route", path: "/students/s1/parents", sub: coordinator("prog-1"), allowed: true},
		{name: "trailing slash", path: "/students/", sub: coordinator("prog-1"), allowed: true},
		{name: "no program selected", path: "/students", sub: coordinator(""), redirect: SelectProgramPath},
		{name: "unassigned program", path: "/students", sub: coordinator("prog-2"), redirect: SelectProgramPath},
		{name: "role not allowed", path: "/users", sub: coordinator("prog-1"), redirect: UnauthorizedPath},
		{name: "program not required", path: "/profile", sub: coordinator(""), allowed: true},
		{name: "select program page", path: "/select-program", sub: coordinator(""), allowed: true},
		{
			name:    "super admin any program",
			path:    "/students",
			sub:     &Subject{Role: program.RoleSuperAdmin, ProgramID: "prog-9"},
			allowed: true,
		},
		{
			name:     "super admin still needs a program",
			path:     "/courses",
			sub:      &Subject{Role: program.RoleSuperAdmin},
			redirect: SelectProgramPath,
		},
		{
			name:     "longest prefix wins",
			path:     "/admin/programs/new",
			sub:      &Subject{Role: program.RoleProgramAdmin},
			redirect: UnauthorizedPath,
		},
		{
			name:    "shorter prefix still applies elsewhere",
			path:    "/admin/settings",
			sub:     &Subject{Role: program.RoleProgramAdmin},
			allowed: true,
		},
		{
			name:     "parent kept out of staff pages",
			path:     "/facilities",
			sub:      &Subject{Role: program.RoleParent, ProgramID: "prog-1"},
			redirect: UnauthorizedPath,
		},
		{name: "segment boundary", path: "/studentsx", sub: coordinator(""), allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.path, tt.sub)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tt.redirect, d.Redirect)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestGuard_Match(t *testing.T) {
	g := New(nil, nil)

	r := g.Match("/admin/programs/42")
	require.NotNil(t, r)
	assert.Equal(t, "/admin/programs", r.Path)

	r = g.Match("/admin")
	require.NotNil(t, r)
	assert.Equal(t, "/admin", r.Path)

	assert.Nil(t, g.Match("/nowhere"))
}

func TestGuard_CustomRules(t *testing.T) {
	g := New([]Rule{
		{Path: "reports/", AllowedRoles: []program.Role{program.RoleStaff}},
		{Path: "/"},
	}, []string{})

	d := g.Evaluate("/reports/daily", &Subject{Role: program.RoleStaff})
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "/reports", d.Rule.Path)

	d = g.Evaluate("/reports", &Subject{Role: program.RoleInstructor})
	assert.Equal(t, UnauthorizedPath, d.Redirect)

	d = g.Evaluate("/anything", &Subject{Role: program.RoleInstructor})
	assert.True(t, d.Allowed)
	assert.Equal(t, "/", d.Rule.Path)

	// no public paths configured
	d = g.Evaluate("/login", nil)
	assert.Equal(t, LoginPath, d.Redirect)
}

func TestRule_Allows(t *testing.T) {
	assert.True(t, Rule{}.Allows(program.RoleParent))
	r := Rule{AllowedRoles: []program.Role{program.RoleStaff}}
	assert.True(t, r.Allows(program.RoleStaff))
	assert.False(t, r.Allows(program.RoleParent))
}

func TestDefaultRules_ValidRoles(t *testing.T) {
	for _, r := range DefaultRules {
		for _, role := range r.AllowedRoles {
			assert.True(t, role.Valid(), "%s: %s", r.Path, role)
		}
	}
}
