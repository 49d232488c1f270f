// Package program holds the active tenant (program) context of the signed-in
// user and the single predicate deciding which programs a user may enter.
package program

import (
	"slices"
)

// Role is a user role as reported by the academy API.
type Role string

// Roles known to the academy API.
const (
	// RoleSuperAdmin can access every program without an assignment.
	RoleSuperAdmin         Role = "super_admin"
	RoleProgramAdmin       Role = "program_admin"
	RoleProgramCoordinator Role = "program_coordinator"
	RoleInstructor         Role = "instructor"
	RoleStaff              Role = "staff"
	RoleParent             Role = "parent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleProgramAdmin, RoleProgramCoordinator,
		RoleInstructor, RoleStaff, RoleParent:
		return true
	}
	return false
}

// Context is the program the user is currently operating in.
type Context struct {
	ProgramID   string   `json:"programId"`
	ProgramName string   `json:"programName,omitempty"`
	UserRole    Role     `json:"userRole,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	c.Permissions = slices.Clone(c.Permissions)
	return c
}

// Update is a partial change applied by UpdateContext. Nil fields are left
// unchanged.
type Update struct {
	ProgramID   *string
	ProgramName *string
	UserRole    *Role
	Permissions *[]string
}

func (u Update) apply(c *Context) {
	if u.ProgramID != nil {
		c.ProgramID = *u.ProgramID
	}
	if u.ProgramName != nil {
		c.ProgramName = *u.ProgramName
	}
	if u.UserRole != nil {
		c.UserRole = *u.UserRole
	}
	if u.Permissions != nil {
		c.Permissions = slices.Clone(*u.Permissions)
	}
}

// Assignment links a user to a program.
type Assignment struct {
	ProgramID   string   `json:"program_id"`
	ProgramName string   `json:"program_name,omitempty"`
	Role        Role     `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CanAccess reports whether a user with role and assignments may operate in
// programID. Super admins may access any program. Every other role needs an
// assignment for that program.
func CanAccess(role Role, programID string, assignments []Assignment) bool {
	if role == RoleSuperAdmin {
		return true
	}
	if programID == "" {
		return false
	}
	return slices.ContainsFunc(assignments, func(a Assignment) bool {
		return a.ProgramID == programID
	})
}

// FindAssignment returns the assignment for programID.
func FindAssignment(programID string, assignments []Assignment) (Assignment, bool) {
	i := slices.IndexFunc(assignments, func(a Assignment) bool {
		return a.ProgramID == programID
	})
	if i < 0 {
		return Assignment{}, false
	}
	return assignments[i], true
}
