package services

import (
	"context"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/academy-client/pkg/transport"
)

const (
	coursesPath    = "/courses"
	studentsPath   = "/students"
	facilitiesPath = "/facilities"
)

var (
	courseEnrollmentsTmpl    = uritemplate.MustNew("/courses/{id}/enrollments")
	studentParentsTmpl       = uritemplate.MustNew("/students/{id}/parents")
	facilityAvailabilityTmpl = uritemplate.MustNew("/facilities/{id}/availability")
)

// CourseService manages courses in the active program.
type CourseService struct {
	resource[Course]
}

// NewCourseService creates a CourseService.
func NewCourseService(tc *transport.Client) *CourseService {
	return &CourseService{newResource[Course](tc, coursesPath)}
}

// List returns a page of courses.
func (s *CourseService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[Course]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one course.
func (s *CourseService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[Course], error) {
	return s.get(ctx, id, opts)
}

// Create adds a course.
func (s *CourseService) Create(ctx context.Context, c Course) (*transport.Response[Course], error) {
	return s.create(ctx, c, nil)
}

// Update replaces a course.
func (s *CourseService) Update(ctx context.Context, id string, c Course) (*transport.Response[Course], error) {
	return s.update(ctx, id, c, nil)
}

// Delete removes a course.
func (s *CourseService) Delete(ctx context.Context, id string) (*transport.Response[struct{}], error) {
	return s.delete(ctx, id, nil)
}

// Enroll adds a student to a course. Cached course and student reads are
// dropped because both report enrollment counts.
func (s *CourseService) Enroll(ctx context.Context, courseID, studentID string) (*transport.Response[Enrollment], error) {
	body := map[string]string{"student_id": studentID}
	resp, err := transport.Post[Enrollment](ctx, s.tc, expand(courseEnrollmentsTmpl, "id", courseID), body)
	return invalidated(ctx, s.tc, resp, err, coursesPath, studentsPath)
}

// StudentService manages students in the active program.
type StudentService struct {
	resource[Student]
}

// NewStudentService creates a StudentService.
func NewStudentService(tc *transport.Client) *StudentService {
	return &StudentService{newResource[Student](tc, studentsPath)}
}

// List returns a page of students.
func (s *StudentService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[Student]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[Student], error) {
	return s.get(ctx, id, opts)
}

// Create adds a student.
func (s *StudentService) Create(ctx context.Context, st Student) (*transport.Response[Student], error) {
	return s.create(ctx, st, nil)
}

// Update replaces a student.
func (s *StudentService) Update(ctx context.Context, id string, st Student) (*transport.Response[Student], error) {
	return s.update(ctx, id, st, nil)
}

// Delete removes a student.
func (s *StudentService) Delete(ctx context.Context, id string) (*transport.Response[struct{}], error) {
	return s.delete(ctx, id, nil)
}

// Parents lists the guardians linked to a student.
func (s *StudentService) Parents(ctx context.Context, studentID string, opts ...transport.RequestOption) (*transport.Response[[]Parent], error) {
	return transport.Get[[]Parent](ctx, s.tc, expand(studentParentsTmpl, "id", studentID),
		s.opts([]transport.RequestOption{transport.WithCache(DefaultCacheTTL)}, opts)...)
}

// LinkParent links an existing parent to a student.
func (s *StudentService) LinkParent(ctx context.Context, studentID, parentID, relationship string) (*transport.Response[Parent], error) {
	body := map[string]string{"parent_id": parentID, "relationship": relationship}
	resp, err := transport.Post[Parent](ctx, s.tc, expand(studentParentsTmpl, "id", studentID), body)
	return invalidated(ctx, s.tc, resp, err, studentsPath)
}

// FacilityService manages facilities in the active program.
type FacilityService struct {
	resource[Facility]
}

// NewFacilityService creates a FacilityService.
func NewFacilityService(tc *transport.Client) *FacilityService {
	return &FacilityService{newResource[Facility](tc, facilitiesPath)}
}

// List returns a page of facilities.
func (s *FacilityService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[Facility]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one facility.
func (s *FacilityService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[Facility], error) {
	return s.get(ctx, id, opts)
}

// Create adds a facility.
func (s *FacilityService) Create(ctx context.Context, f Facility) (*transport.Response[Facility], error) {
	return s.create(ctx, f, nil)
}

// Update replaces a facility.
func (s *FacilityService) Update(ctx context.Context, id string, f Facility) (*transport.Response[Facility], error) {
	return s.update(ctx, id, f, nil)
}

// Delete removes a facility.
func (s *FacilityService) Delete(ctx context.Context, id string) (*transport.Response[struct{}], error) {
	return s.delete(ctx, id, nil)
}

// Availability returns a facility's slots on date (YYYY-MM-DD).
func (s *FacilityService) Availability(ctx context.Context, facilityID, date string, opts ...transport.RequestOption) (*transport.Response[Availability], error) {
	return transport.Get[Availability](ctx, s.tc, expand(facilityAvailabilityTmpl, "id", facilityID),
		s.opts([]transport.RequestOption{transport.WithParam("date", date), transport.WithCache(DefaultCacheTTL)}, opts)...)
}
