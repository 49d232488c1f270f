package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/academy-client/pkg/cache"
	"github.com/txn2/academy-client/pkg/program"
	"github.com/txn2/academy-client/pkg/retry"
	"github.com/txn2/academy-client/pkg/storage"
	"github.com/txn2/academy-client/pkg/transport"
)

const testProgram = "prog-1"

type recorded struct {
	Method  string
	URI     string
	Program string
	Body    map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	reply    any
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	rec := recorded{
		Method:  req.Method,
		URI:     req.URL.RequestURI(),
		Program: req.Header.Get(transport.HeaderProgramContext),
	}
	_ = json.NewDecoder(req.Body).Decode(&rec.Body)

	r.mu.Lock()
	r.requests = append(r.requests, rec)
	status, reply := r.status, r.reply
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if reply != nil {
		_ = json.NewEncoder(w).Encode(reply)
	}
}

func (r *recorder) last() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fixedProgram string

func (p fixedProgram) ProgramID() string { return string(p) }

func newTestServices(t *testing.T, reply any) (*Services, *recorder) {
	t.Helper()
	rec := &recorder{reply: reply}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	tc, err := transport.New(
		transport.Config{BaseURL: srv.URL, Retry: retry.Policy{MaxAttempts: 1}},
		transport.WithCacheManager(cache.New(storage.NewMemoryStore(), cache.Config{})),
		transport.WithProgramSource(fixedProgram(testProgram)),
	)
	require.NoError(t, err)
	return New(tc), rec
}

func TestListParams_Values(t *testing.T) {
	v := ListParams{Page: 2, PageSize: 25, Search: "ada", Filters: map[string]string{"grade": "5"}}.Values()
	assert.Equal(t, "grade=5&page=2&page_size=25&search=ada", v.Encode())
	assert.Empty(t, ListParams{}.Values())
}

func TestStudentService_ListIsCachedAndScoped(t *testing.T) {
	svc, rec := newTestServices(t, Page[Student]{
		Items: []Student{{ID: "s1", FirstName: "Ada"}},
		Total: 1, Page: 1, PageSize: 20,
	})
	ctx := context.Background()

	resp, err := svc.Students.List(ctx, ListParams{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "Ada", resp.Data.Items[0].FirstName)
	assert.Equal(t, 1, resp.Data.Total)

	assert.Equal(t, "/students?page=1&page_size=20", rec.last().URI)
	assert.Equal(t, testProgram, rec.last().Program)

	again, err := svc.Students.List(ctx, ListParams{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, 1, rec.count())

	_, err = svc.Students.List(ctx, ListParams{Page: 1, PageSize: 20}, transport.WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count())
}

func TestStudentService_MutationInvalidates(t *testing.T) {
	svc, rec := newTestServices(t, Student{ID: "s1", FirstName: "Ada"})
	ctx := context.Background()

	_, err := svc.Students.Get(ctx, "s1")
	require.NoError(t, err)
	_, err = svc.Courses.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, rec.count())

	_, err = svc.Students.Update(ctx, "s1", Student{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, rec.last().Method)
	assert.Equal(t, "/students/s1", rec.last().URI)
	assert.Equal(t, "Lovelace", rec.last().Body["last_name"])

	_, err = svc.Students.Get(ctx, "s1")
	require.NoError(t, err)
	_, err = svc.Courses.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.count(), "student read refetched, course read still cached")
}

func TestStudentService_FailedMutationKeepsCache(t *testing.T) {
	svc, rec := newTestServices(t, Student{ID: "s1"})
	ctx := context.Background()

	_, err := svc.Students.Get(ctx, "s1")
	require.NoError(t, err)

	rec.mu.Lock()
	rec.status = http.StatusConflict
	rec.reply = map[string]string{"error": "student has enrollments"}
	rec.mu.Unlock()

	resp, err := svc.Students.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "student has enrollments", resp.Error)

	cached, err := svc.Students.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cached.Cached)
}

func TestStudentService_Parents(t *testing.T) {
	svc, rec := newTestServices(t, []Parent{{ID: "p1", Relationship: "mother"}})
	ctx := context.Background()

	resp, err := svc.Students.Parents(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "mother", resp.Data[0].Relationship)
	assert.Equal(t, "/students/s1/parents", rec.last().URI)

	rec.mu.Lock()
	rec.reply = Parent{ID: "p2", Relationship: "father"}
	rec.mu.Unlock()

	linked, err := svc.Students.LinkParent(ctx, "s1", "p2", "father")
	require.NoError(t, err)
	assert.Equal(t, "p2", linked.Data.ID)
	assert.Equal(t, http.MethodPost, rec.last().Method)
	assert.Equal(t, "p2", rec.last().Body["parent_id"])

	rec.mu.Lock()
	rec.reply = []Parent{{ID: "p1", Relationship: "mother"}, {ID: "p2", Relationship: "father"}}
	rec.mu.Unlock()

	_, err = svc.Students.Parents(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.count(), "linking a parent invalidates student reads")
}

func TestStudentService_UndecodableMutationReplyInvalidates(t *testing.T) {
	svc, rec := newTestServices(t, Page[Student]{Items: []Student{{ID: "s1"}}, Total: 1})
	ctx := context.Background()

	_, err := svc.Students.List(ctx, ListParams{})
	require.NoError(t, err)

	rec.mu.Lock()
	rec.reply = map[string]int{"id": 42}
	rec.mu.Unlock()

	created, err := svc.Students.Create(ctx, Student{FirstName: "Alan"})
	require.Error(t, err)
	require.NotNil(t, created)
	assert.True(t, created.Success)

	rec.mu.Lock()
	rec.reply = Page[Student]{Items: []Student{{ID: "s1"}, {ID: "s2"}}, Total: 2}
	rec.mu.Unlock()

	list, err := svc.Students.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.False(t, list.Cached)
	assert.Equal(t, 2, list.Data.Total)
	assert.Equal(t, 3, rec.count())
}

func TestCourseService_Enroll(t *testing.T) {
	svc, rec := newTestServices(t, Enrollment{ID: "e1", Status: "active"})

	resp, err := svc.Courses.Enroll(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "e1", resp.Data.ID)
	assert.Equal(t, "/courses/c1/enrollments", rec.last().URI)
	assert.Equal(t, "s1", rec.last().Body["student_id"])
	assert.Equal(t, testProgram, rec.last().Program)
}

func TestCourseService_CRUD(t *testing.T) {
	svc, rec := newTestServices(t, Course{ID: "c1", Name: "Violin I"})
	ctx := context.Background()

	created, err := svc.Courses.Create(ctx, Course{Name: "Violin I", Capacity: 12, StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "c1", created.Data.ID)
	assert.Equal(t, "/courses", rec.last().URI)
	assert.InDelta(t, 12, rec.last().Body["capacity"], 0)
	assert.NotContains(t, rec.last().Body, "end_date")

	_, err = svc.Courses.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.last().Method)

	_, err = svc.Courses.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, "/courses", rec.last().URI)
}

func TestFacilityService_Availability(t *testing.T) {
	svc, rec := newTestServices(t, Availability{
		FacilityID: "f1", Date: "2026-05-04",
		Slots: []TimeSlot{{Start: "09:00", End: "10:00", Available: true}},
	})

	resp, err := svc.Facilities.Availability(context.Background(), "f1", "2026-05-04")
	require.NoError(t, err)
	assert.True(t, resp.Data.Slots[0].Available)
	assert.Equal(t, "/facilities/f1/availability?date=2026-05-04", rec.last().URI)
}

func TestFacilityService_CRUD(t *testing.T) {
	svc, rec := newTestServices(t, Facility{ID: "f1", Name: "Main Hall"})
	ctx := context.Background()

	_, err := svc.Facilities.Create(ctx, Facility{Name: "Main Hall"})
	require.NoError(t, err)
	_, err = svc.Facilities.Update(ctx, "f1", Facility{Name: "Main Hall", Capacity: 80})
	require.NoError(t, err)
	assert.Equal(t, "/facilities/f1", rec.last().URI)
	_, err = svc.Facilities.Delete(ctx, "f1")
	require.NoError(t, err)
	_, err = svc.Facilities.List(ctx, ListParams{Page: 1})
	require.NoError(t, err)
	got, err := svc.Facilities.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", got.Data.Name)
}

func TestCommunicationService(t *testing.T) {
	svc, rec := newTestServices(t, Communication{ID: "m/1", Subject: "Recital"})
	ctx := context.Background()

	_, err := svc.Communications.Send(ctx, SendRequest{Subject: "Recital", Body: "Friday 6pm", RecipientIDs: []string{"p1"}})
	require.NoError(t, err)
	assert.Equal(t, "/communications", rec.last().URI)
	assert.Equal(t, "Recital", rec.last().Body["subject"])

	_, err = svc.Communications.MarkRead(ctx, "m/1")
	require.NoError(t, err)
	assert.Equal(t, "/communications/m%2F1/read", rec.last().URI)

	_, err = svc.Communications.List(ctx, ListParams{})
	require.NoError(t, err)
	_, err = svc.Communications.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "/communications/m1", rec.last().URI)
}

func TestProgramAndUserServices_SkipProgramContext(t *testing.T) {
	svc, rec := newTestServices(t, Program{ID: "prog-2", Name: "Brass"})
	ctx := context.Background()

	resp, err := svc.Programs.Get(ctx, "prog-2")
	require.NoError(t, err)
	assert.Equal(t, "Brass", resp.Data.Name)
	assert.Empty(t, rec.last().Program)

	for _, call := range []func() error{
		func() error { _, err := svc.Programs.List(ctx, ListParams{}); return err },
		func() error { _, err := svc.Programs.Create(ctx, Program{Name: "Brass"}); return err },
		func() error { _, err := svc.Programs.Update(ctx, "prog-2", Program{Name: "Brass"}); return err },
		func() error { _, err := svc.Programs.Delete(ctx, "prog-2"); return err },
		func() error { _, err := svc.Users.List(ctx, ListParams{}); return err },
		func() error { _, err := svc.Users.Get(ctx, "u1"); return err },
		func() error { _, err := svc.Users.Create(ctx, User{Email: "a@example.com"}); return err },
		func() error { _, err := svc.Users.Update(ctx, "u1", User{Email: "a@example.com"}); return err },
		func() error { _, err := svc.Users.Delete(ctx, "u1"); return err },
	} {
		require.NoError(t, call())
		assert.Empty(t, rec.last().Program, rec.last().URI)
	}
}

func TestUserService_ProgramAssignments(t *testing.T) {
	svc, rec := newTestServices(t, program.Assignment{ProgramID: testProgram, Role: program.RoleInstructor})
	ctx := context.Background()

	resp, err := svc.Users.AssignProgram(ctx, "u1", program.Assignment{ProgramID: testProgram, Role: program.RoleInstructor})
	require.NoError(t, err)
	assert.Equal(t, testProgram, resp.Data.ProgramID)
	assert.Equal(t, "/users/u1/programs", rec.last().URI)
	assert.Equal(t, "instructor", rec.last().Body["role"])
	assert.Empty(t, rec.last().Program)

	_, err = svc.Users.UnassignProgram(ctx, "u1", testProgram)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.last().Method)
	assert.Equal(t, "/users/u1/programs/prog-1", rec.last().URI)
}

func TestAuthService(t *testing.T) {
	svc, rec := newTestServices(t, LoginResult{AccessToken: "a", RefreshToken: "r"})
	ctx := context.Background()

	resp, err := svc.Auth.Login(ctx, "ada", "secret")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Data.AccessToken)
	assert.Equal(t, "/auth/login", rec.last().URI)
	assert.Equal(t, "ada", rec.last().Body["username"])
	assert.Empty(t, rec.last().Program)

	_, err = svc.Auth.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/auth/me", rec.last().URI)

	_, err = svc.Auth.ChangePassword(ctx, "old", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.last().Body["new_password"])

	_, err = svc.Auth.Logout(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/auth/logout", rec.last().URI)
	assert.Empty(t, rec.last().Program)
}

func TestInvalidationPattern(t *testing.T) {
	assert.Equal(t, `^GET:/students`, InvalidationPattern("/students"))
	assert.Equal(t, `^GET:/a\.b`, InvalidationPattern("/a.b"))
}

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace"}.FullName())
	assert.Equal(t, "Ada", User{FirstName: "Ada"}.FullName())
	assert.Equal(t, "Lovelace", User{LastName: "Lovelace"}.FullName())
}
