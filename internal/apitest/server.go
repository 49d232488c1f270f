// Package apitest runs an in-process fake of the academy API for tests.
// Access tokens are HS256 JWTs signed by the server, so clients see the
// same token shape they get in production.
package apitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/txn2/academy-client/pkg/program"
	"github.com/txn2/academy-client/pkg/services"
	"github.com/txn2/academy-client/pkg/transport"
)

// Issuer is the iss claim of every token minted by the server.
const Issuer = "academy-apitest"

// DefaultTokenTTL is the lifetime of tokens issued by login.
const DefaultTokenTTL = time.Hour

type account struct {
	password string
	user     services.User
}

// Server is a fake academy API.
type Server struct {
	*httptest.Server

	key []byte
	mux *http.ServeMux

	mu         sync.Mutex
	accounts   map[string]*account // by username
	users      map[string]*account // by user ID
	programs   map[string]services.Program
	students   map[string][]services.Student // by program ID
	courses    map[string][]services.Course
	facilities map[string][]services.Facility
	revoked    map[string]bool
	hits       map[string]int
	failures   map[string][]int
	seq        int
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		key:        []byte(uuid.NewString()),
		mux:        http.NewServeMux(),
		accounts:   make(map[string]*account),
		users:      make(map[string]*account),
		programs:   make(map[string]services.Program),
		students:   make(map[string][]services.Student),
		courses:    make(map[string][]services.Course),
		facilities: make(map[string][]services.Facility),
		revoked:    make(map[string]bool),
		hits:       make(map[string]int),
		failures:   make(map[string][]int),
	}
	s.routes()
	s.Server = httptest.NewServer(s.mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() {
	s.handle("POST /auth/login", s.login)
	s.handle("POST /auth/logout", s.authed(s.logout))
	s.handle("GET /auth/me", s.authed(s.me))
	s.handle("POST /auth/change-password", s.authed(s.changePassword))

	s.handle("GET /programs", s.authed(s.listPrograms))
	s.handle("GET /programs/{id}", s.authed(s.getProgram))

	s.handle("GET /students", s.scoped(s.listStudents))
	s.handle("POST /students", s.scoped(s.createStudent))
	s.handle("GET /students/{id}", s.scoped(s.getStudent))
	s.handle("GET /courses", s.scoped(s.listCourses))
	s.handle("GET /facilities", s.scoped(s.listFacilities))
	s.handle("GET /facilities/{id}/availability", s.scoped(s.availability))
}

// AddUser registers an account that can log in with username and password.
func (s *Server) AddUser(username, password string, u services.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Username == "" {
		u.Username = username
	}
	a := &account{password: password, user: u}
	s.accounts[username] = a
	s.users[u.ID] = a
}

// AddProgram registers a program.
func (s *Server) AddProgram(p services.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.ID] = p
}

// AddStudents adds students to a program.
func (s *Server) AddStudents(programID string, st ...services.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[programID] = append(s.students[programID], st...)
}

// AddCourses adds courses to a program.
func (s *Server) AddCourses(programID string, c ...services.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[programID] = append(s.courses[programID], c...)
}

// AddFacilities adds facilities to a program.
func (s *Server) AddFacilities(programID string, f ...services.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[programID] = append(s.facilities[programID], f...)
}

// FailNext makes the next len(statuses) requests matching pattern
// ("METHOD /path") answer with those statuses, in order.
func (s *Server) FailNext(pattern string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pattern] = append(s.failures[pattern], statuses...)
}

// Hits returns how many requests matched pattern ("METHOD /path").
func (s *Server) Hits(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[pattern]
}

// Token mints an access token for userID that expires after ttl. A
// negative ttl yields an already expired token.
func (s *Server) Token(userID string, ttl time.Duration) string {
	s.mu.Lock()
	a := s.users[userID]
	s.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": Issuer,
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	if a != nil {
		claims["email"] = a.user.Email
		claims["name"] = a.user.FullName()
		claims["role"] = string(a.user.Role)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		panic(fmt.Sprintf("apitest: signing token: %v", err))
	}
	return signed
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.hits[key]++
		var forced int
		if queue := s.failures[key]; len(queue) > 0 {
			forced, s.failures[key] = queue[0], queue[1:]
		}
		s.mu.Unlock()

		if forced != 0 {
			writeError(w, forced, http.StatusText(forced))
			return
		}
		h(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u services.User)

// authed rejects requests without a valid bearer token.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h(w, r, u)
	}
}

type scopedHandler func(w http.ResponseWriter, r *http.Request, u services.User, programID string)

// scoped additionally requires a program context the user can access.
func (s *Server) scoped(h scopedHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, u services.User) {
		programID := r.Header.Get(transport.HeaderProgramContext)
		if programID == "" {
			writeError(w, http.StatusBadRequest, "program context required")
			return
		}
		if !program.CanAccess(u.Role, programID, u.ProgramAssignments) {
			writeError(w, http.StatusForbidden, "no access to program "+programID)
			return
		}
		h(w, r, u, programID)
	})
}

func (s *Server) authenticate(r *http.Request) (services.User, error) {
	raw, ok := strings.CutPrefix(r.Header.Get(transport.HeaderAuthorization), "Bearer ")
	if !ok || raw == "" {
		return services.User{}, errors.New("missing bearer token")
	}
	claims, err := s.parseAndValidateToken(raw)
	if err != nil {
		return services.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[raw] {
		return services.User{}, errors.New("token revoked")
	}
	sub, _ := claims["sub"].(string)
	a, ok := s.users[sub]
	if !ok {
		return services.User{}, fmt.Errorf("unknown subject %q", sub)
	}
	return a.user, nil
}

// parseAndValidateToken verifies the signature, expiry and issuer.
func (s *Server) parseAndValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || a.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user := a.user
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": services.LoginResult{
			AccessToken:  s.Token(user.ID, DefaultTokenTTL),
			RefreshToken: uuid.NewString(),
			TokenType:    "Bearer",
			ExpiresIn:    int(DefaultTokenTTL.Seconds()),
			User:         &user,
		},
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, _ services.User) {
	raw := strings.TrimPrefix(r.Header.Get(transport.HeaderAuthorization), "Bearer ")
	s.mu.Lock()
	s.revoked[raw] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (*Server) me(w http.ResponseWriter, _ *http.Request, u services.User) {
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, u services.User) {
	var req services.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.users[u.ID]
	if a.password != req.CurrentPassword {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	a.password = req.NewPassword
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "password changed"})
}

func (s *Server) listPrograms(w http.ResponseWriter, _ *http.Request, u services.User) {
	s.mu.Lock()
	var items []services.Program
	for _, p := range s.programs {
		if program.CanAccess(u.Role, p.ID, u.ProgramAssignments) {
			items = append(items, p)
		}
	}
	s.mu.Unlock()
	slices.SortFunc(items, func(a, b services.Program) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, pageOf(items))
}

func (s *Server) getProgram(w http.ResponseWriter, r *http.Request, _ services.User) {
	s.mu.Lock()
	p, ok := s.programs[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listStudents(w http.ResponseWriter, _ *http.Request, _ services.User, programID string) {
	s.mu.Lock()
	items := slices.Clone(s.students[programID])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, pageOf(items))
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request, _ services.User, programID string) {
	var st services.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	s.seq++
	st.ID = fmt.Sprintf("s%d", s.seq)
	st.ProgramID = programID
	s.students[programID] = append(s.students[programID], st)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) getStudent(w http.ResponseWriter, r *http.Request, _ services.User, programID string) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.students[programID] {
		if st.ID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "student not found")
}

func (s *Server) listCourses(w http.ResponseWriter, _ *http.Request, _ services.User, programID string) {
	s.mu.Lock()
	items := slices.Clone(s.courses[programID])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, pageOf(items))
}

func (s *Server) listFacilities(w http.ResponseWriter, _ *http.Request, _ services.User, programID string) {
	s.mu.Lock()
	items := slices.Clone(s.facilities[programID])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, pageOf(items))
}

func (*Server) availability(w http.ResponseWriter, r *http.Request, _ services.User, _ string) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	writeJSON(w, http.StatusOK, services.Availability{
		FacilityID: r.PathValue("id"),
		Date:       date,
		Slots: []services.TimeSlot{
			{Start: "09:00", End: "10:00", Available: true},
			{Start: "10:00", End: "11:00", Available: false},
		},
	})
}

func pageOf[T any](items []T) services.Page[T] {
	if items == nil {
		items = []T{}
	}
	return services.Page[T]{Items: items, Total: len(items), Page: 1, PageSize: len(items)}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
