// Package client is the composition root of the academy API client. It
// owns the store, cache, program context, transport and domain services,
// and drives the authentication state machine over them.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/txn2/academy-client/pkg/auth"
	"github.com/txn2/academy-client/pkg/cache"
	"github.com/txn2/academy-client/pkg/config"
	"github.com/txn2/academy-client/pkg/program"
	"github.com/txn2/academy-client/pkg/routeguard"
	"github.com/txn2/academy-client/pkg/services"
	"github.com/txn2/academy-client/pkg/storage"
	"github.com/txn2/academy-client/pkg/transport"
)

// State is the authentication state of a Client.
type State int

// Authentication states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	store      storage.Store
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// WithStore uses store instead of opening the configured backend. The
// Client takes ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithHTTPClient sets the HTTP client used by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger for the client and every component it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now for cache expiry and token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Client is the academy API client.
type Client struct {
	logger    *slog.Logger
	now       func() time.Time
	store     storage.Store
	cache     *cache.Manager
	programs  *program.Manager
	transport *transport.Client
	services  *services.Services
	guard     *routeguard.Guard

	mu    sync.RWMutex
	state State
	user  *services.User

	unsubscribe func()
}

// New builds a Client from cfg. It opens the storage backend, restores any
// persisted program context and starts the cache sweep.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.Storage, o.logger); err != nil {
			return nil, err
		}
	}

	cm := cache.New(store, cache.Config{
		Prefix:     cfg.Cache.Prefix,
		DefaultTTL: cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Disabled:   !cfg.Cache.IsEnabled(),
	}, cache.WithClock(o.now), cache.WithLogger(o.logger))

	pm := program.New(ctx, store, program.WithLogger(o.logger))

	topts := []transport.Option{
		transport.WithCacheManager(cm),
		transport.WithProgramSource(pm),
		transport.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		topts = append(topts, transport.WithHTTPClient(o.httpClient))
	}
	tc, err := transport.New(transport.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		CacheTTL:  cfg.Cache.TTL,
		Retry:     cfg.Retry,
	}, topts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	c := &Client{
		logger:    o.logger,
		now:       o.now,
		store:     store,
		cache:     cm,
		programs:  pm,
		transport: tc,
		services:  services.New(tc),
		guard:     routeguard.New(cfg.Routes, nil),
	}
	tc.UseErrorInterceptor(c.intercept)
	c.unsubscribe = pm.Subscribe(func(pc program.Context, ok bool) {
		if ok {
			c.logger.Info("client: program context changed", "program_id", pc.ProgramID, "role", pc.UserRole)
		} else {
			c.logger.Info("client: program context cleared")
		}
	})

	if cfg.Cache.IsEnabled() {
		cm.StartCleanupRoutine(cfg.Cache.CleanupInterval)
	}
	return c, nil
}

// Services returns the domain services.
func (c *Client) Services() *services.Services { return c.services }

// Transport returns the shared HTTP transport.
func (c *Client) Transport() *transport.Client { return c.transport }

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager { return c.cache }

// Programs returns the program context manager.
func (c *Client) Programs() *program.Manager { return c.programs }

// State returns the authentication state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticated reports whether a user is signed in.
func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

// ProgramSelected reports whether a program context is active.
func (c *Client) ProgramSelected() bool {
	_, ok := c.programs.Current()
	return ok
}

// CurrentUser returns the signed-in user.
func (c *Client) CurrentUser() (services.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return services.User{}, false
	}
	return *c.user, true
}

// Initialize validates an existing session. With an empty accessToken the
// tokens persisted by a previous Login are used. Any failure leaves the
// client unauthenticated with no tokens installed.
func (c *Client) Initialize(ctx context.Context, accessToken, refreshToken string) bool {
	tokens := auth.Tokens{AccessToken: accessToken, RefreshToken: refreshToken}
	if tokens.Empty() {
		stored, found, err := auth.LoadTokens(ctx, c.store)
		if err != nil {
			c.logger.Warn("client: loading persisted tokens failed", "error", err)
		}
		if !found {
			c.clearSession(ctx)
			return false
		}
		tokens = stored
	}

	if claims, err := auth.Inspect(tokens.AccessToken); err == nil && claims.Expired(c.now()) {
		c.logger.Info("client: stored session expired", "subject", claims.Subject, "expired_at", claims.ExpiresAt)
		c.clearSession(ctx)
		return false
	}

	c.setState(StateAuthenticating)
	c.transport.SetTokens(tokens)

	user, ok := c.fetchUser(ctx)
	if !ok {
		c.clearSession(ctx)
		return false
	}
	c.establish(ctx, tokens, user)
	return true
}

// Login signs in with username and password. A rejected login returns
// false and is not an error.
func (c *Client) Login(ctx context.Context, username, password string) bool {
	c.setState(StateAuthenticating)

	resp, err := c.services.Auth.Login(ctx, username, password)
	switch {
	case err != nil:
		c.logger.Warn("client: login failed", "username", username, "error", err)
		c.clearSession(ctx)
		return false
	case !resp.Success || resp.Data.AccessToken == "":
		c.logger.Info("client: login rejected", "username", username, "status", resp.StatusCode, "reason", resp.Error)
		c.clearSession(ctx)
		return false
	}

	tokens := auth.Tokens{AccessToken: resp.Data.AccessToken, RefreshToken: resp.Data.RefreshToken}
	c.transport.SetTokens(tokens)

	user := resp.Data.User
	if user == nil {
		var ok bool
		if user, ok = c.fetchUser(ctx); !ok {
			c.clearSession(ctx)
			return false
		}
	}
	c.establish(ctx, tokens, user)
	c.logger.Info("client: signed in", "user_id", user.ID, "role", user.Role)
	return true
}

// Logout ends the session. The server is told on a best-effort basis; local
// state is always cleared.
func (c *Client) Logout(ctx context.Context) {
	if c.transport.Authenticated() {
		resp, err := c.services.Auth.Logout(ctx)
		switch {
		case err != nil:
			c.logger.Warn("client: server logout failed", "error", err)
		case !resp.Success:
			c.logger.Warn("client: server logout rejected", "status", resp.StatusCode, "reason", resp.Error)
		}
	}
	c.clearSession(ctx)
	c.logger.Info("client: signed out")
}

// SwitchProgram makes programID the active program. It returns false,
// leaving the current context untouched, when the user may not access the
// program or any lookup fails.
func (c *Client) SwitchProgram(ctx context.Context, programID string) bool {
	if !c.Authenticated() || programID == "" {
		return false
	}

	user, ok := c.fetchUser(ctx)
	if !ok {
		return false
	}
	if !c.programs.CanAccessProgram(programID, user.Role, user.ProgramAssignments) {
		c.logger.Warn("client: program switch denied", "program_id", programID, "role", user.Role)
		return false
	}

	resp, err := c.services.Programs.Get(ctx, programID, transport.WithoutCache())
	if err != nil {
		c.logger.Warn("client: program lookup failed", "program_id", programID, "error", err)
		return false
	}
	if !resp.Success {
		c.logger.Warn("client: program lookup rejected", "program_id", programID, "status", resp.StatusCode, "reason", resp.Error)
		return false
	}

	if err := c.programs.SetContext(ctx, contextFor(user, programID, resp.Data.Name)); err != nil {
		// Active in memory; only persistence failed.
		c.logger.Warn("client: program context not persisted", "program_id", programID, "error", err)
	}
	c.setUser(user)
	return true
}

// CanVisit evaluates a route for the signed-in user.
func (c *Client) CanVisit(path string) routeguard.Decision {
	user, ok := c.CurrentUser()
	if !ok || !c.Authenticated() {
		return c.guard.Evaluate(path, nil)
	}
	sub := &routeguard.Subject{Role: user.Role, Assignments: user.ProgramAssignments}
	if pc, ok := c.programs.Current(); ok {
		sub.ProgramID = pc.ProgramID
	}
	return c.guard.Evaluate(path, sub)
}

// Close stops background work and closes the store.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	_ = c.cache.Close()
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Client) setUser(u *services.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// fetchUser calls the current-user endpoint, bypassing the cache.
func (c *Client) fetchUser(ctx context.Context) (*services.User, bool) {
	resp, err := c.services.Auth.CurrentUser(ctx, transport.WithoutCache())
	if err != nil {
		c.logger.Warn("client: fetching current user failed", "error", err)
		return nil, false
	}
	if !resp.Success {
		c.logger.Info("client: current user rejected", "status", resp.StatusCode, "reason", resp.Error)
		return nil, false
	}
	return &resp.Data, true
}

// establish finishes a successful Initialize or Login.
func (c *Client) establish(ctx context.Context, tokens auth.Tokens, user *services.User) {
	if err := auth.SaveTokens(ctx, c.store, tokens); err != nil {
		c.logger.Warn("client: persisting tokens failed", "error", err)
	}
	c.bootstrapProgram(ctx, user)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.state = StateAuthenticated
}

// bootstrapProgram keeps a restored context the user can still access,
// otherwise selects their first assignment. A super admin is never given a
// context automatically.
func (c *Client) bootstrapProgram(ctx context.Context, user *services.User) {
	if cur, ok := c.programs.Current(); ok {
		if program.CanAccess(user.Role, cur.ProgramID, user.ProgramAssignments) {
			return
		}
		c.logger.Info("client: dropping inaccessible program context", "program_id", cur.ProgramID)
	}

	var err error
	if user.Role == program.RoleSuperAdmin || len(user.ProgramAssignments) == 0 {
		err = c.programs.ClearContext(ctx)
	} else {
		a := user.ProgramAssignments[0]
		err = c.programs.SetContext(ctx, contextFor(user, a.ProgramID, a.ProgramName))
	}
	if err != nil {
		c.logger.Warn("client: program context not persisted", "error", err)
	}
}

// contextFor builds the context for user in programID. The assignment's
// role and permissions win over the account-level role.
func contextFor(user *services.User, programID, programName string) program.Context {
	pc := program.Context{ProgramID: programID, ProgramName: programName, UserRole: user.Role}
	if a, ok := program.FindAssignment(programID, user.ProgramAssignments); ok {
		if a.Role != "" {
			pc.UserRole = a.Role
		}
		if programName == "" {
			pc.ProgramName = a.ProgramName
		}
		pc.Permissions = append([]string(nil), a.Permissions...)
	}
	return pc
}

// clearSession drops every trace of the session. Safe to call repeatedly.
func (c *Client) clearSession(ctx context.Context) {
	c.transport.ClearTokens()
	if err := auth.ClearTokens(ctx, c.store); err != nil {
		c.logger.Warn("client: clearing persisted tokens failed", "error", err)
	}
	if err := c.programs.ClearContext(ctx); err != nil {
		c.logger.Warn("client: clearing program context failed", "error", err)
	}
	c.cache.Clear(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.state = StateUnauthenticated
}

// intercept is the global error interceptor.
func (c *Client) intercept(ctx context.Context, err error) {
	status := transport.StatusCode(err)
	switch {
	case status == http.StatusUnauthorized:
		c.logger.Warn("client: session rejected, signing out", "error", err)
		c.clearSession(ctx)
	case status == http.StatusForbidden:
		c.logger.Warn("client: request forbidden, program context may be stale",
			"program_id", c.programs.ProgramID(), "error", err)
	case status >= http.StatusInternalServerError:
		c.logger.Error("client: server error", "status", status, "error", err)
	}
}
