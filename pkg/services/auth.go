package services

import (
	"context"

	"github.com/txn2/academy-client/pkg/transport"
)

// Auth endpoints.
const (
	loginPath          = "/auth/login"
	logoutPath         = "/auth/logout"
	currentUserPath    = "/auth/me"
	changePasswordPath = "/auth/change-password"
)

// AuthService calls the authentication endpoints. None of them are
// program scoped.
type AuthService struct {
	tc *transport.Client
}

// NewAuthService creates an AuthService.
func NewAuthService(tc *transport.Client) *AuthService {
	return &AuthService{tc: tc}
}

// Login exchanges credentials for tokens. A rejected login is an
// unsuccessful response, so interceptors do not see it.
func (s *AuthService) Login(ctx context.Context, username, password string) (*transport.Response[LoginResult], error) {
	return transport.Post[LoginResult](ctx, s.tc, loginPath,
		LoginRequest{Username: username, Password: password},
		transport.SkipProgramContext(), transport.SkipInterceptors(), transport.NoRetry())
}

// Logout invalidates the session server-side.
func (s *AuthService) Logout(ctx context.Context) (*transport.Response[struct{}], error) {
	return transport.Post[struct{}](ctx, s.tc, logoutPath, nil,
		transport.SkipProgramContext(), transport.SkipInterceptors(), transport.NoRetry())
}

// CurrentUser returns the signed-in user with their program assignments.
func (s *AuthService) CurrentUser(ctx context.Context, opts ...transport.RequestOption) (*transport.Response[User], error) {
	return transport.Get[User](ctx, s.tc, currentUserPath,
		append([]transport.RequestOption{transport.SkipProgramContext()}, opts...)...)
}

// ChangePassword updates the signed-in user's password.
func (s *AuthService) ChangePassword(ctx context.Context, current, next string) (*transport.Response[struct{}], error) {
	return transport.Post[struct{}](ctx, s.tc, changePasswordPath,
		ChangePasswordRequest{CurrentPassword: current, NewPassword: next},
		transport.SkipProgramContext(), transport.NoRetry())
}
