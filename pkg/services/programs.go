package services

import (
	"context"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/academy-client/pkg/program"
	"github.com/txn2/academy-client/pkg/transport"
)

const (
	programsPath = "/programs"
	usersPath    = "/users"
)

var (
	userProgramsTmpl = uritemplate.MustNew("/users/{id}/programs")
	userProgramTmpl  = uritemplate.MustNew("/users/{id}/programs/{program_id}")
)

// ProgramService manages programs. Programs are academy-wide, so requests
// carry no program context.
type ProgramService struct {
	resource[Program]
}

// NewProgramService creates a ProgramService.
func NewProgramService(tc *transport.Client) *ProgramService {
	return &ProgramService{newResource[Program](tc, programsPath, transport.SkipProgramContext())}
}

// List returns a page of programs.
func (s *ProgramService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[Program]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one program.
func (s *ProgramService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[Program], error) {
	return s.get(ctx, id, opts)
}

// Create adds a program.
func (s *ProgramService) Create(ctx context.Context, p Program) (*transport.Response[Program], error) {
	return s.create(ctx, p, nil)
}

// Update replaces a program.
func (s *ProgramService) Update(ctx context.Context, id string, p Program) (*transport.Response[Program], error) {
	return s.update(ctx, id, p, nil)
}

// Delete removes a program.
func (s *ProgramService) Delete(ctx context.Context, id string) (*transport.Response[struct{}], error) {
	return s.delete(ctx, id, nil)
}

// UserService manages accounts across all programs.
type UserService struct {
	resource[User]
}

// NewUserService creates a UserService.
func NewUserService(tc *transport.Client) *UserService {
	return &UserService{newResource[User](tc, usersPath, transport.SkipProgramContext())}
}

// List returns a page of users.
func (s *UserService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[User]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[User], error) {
	return s.get(ctx, id, opts)
}

// Create adds a user.
func (s *UserService) Create(ctx context.Context, u User) (*transport.Response[User], error) {
	return s.create(ctx, u, nil)
}

// Update replaces a user.
func (s *UserService) Update(ctx context.Context, id string, u User) (*transport.Response[User], error) {
	return s.update(ctx, id, u, nil)
}

// Delete removes a user.
func (s *UserService) Delete(ctx context.Context, id string) (*transport.Response[struct{}], error) {
	return s.delete(ctx, id, nil)
}

// AssignProgram gives a user access to a program.
func (s *UserService) AssignProgram(ctx context.Context, userID string, a program.Assignment) (*transport.Response[program.Assignment], error) {
	resp, err := transport.Post[program.Assignment](ctx, s.tc, expand(userProgramsTmpl, "id", userID), a, s.opts(nil, nil)...)
	return invalidated(ctx, s.tc, resp, err, usersPath)
}

// UnassignProgram revokes a user's access to a program.
func (s *UserService) UnassignProgram(ctx context.Context, userID, programID string) (*transport.Response[struct{}], error) {
	resp, err := transport.Delete[struct{}](ctx, s.tc, expand(userProgramTmpl, "id", userID, "program_id", programID), s.opts(nil, nil)...)
	return invalidated(ctx, s.tc, resp, err, usersPath)
}
