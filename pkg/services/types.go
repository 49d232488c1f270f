package services

import (
	"time"

	"github.com/txn2/academy-client/pkg/program"
)

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// User is an academy account.
type User struct {
	ID                 string               `json:"id"`
	Email              string               `json:"email"`
	Username           string               `json:"username,omitempty"`
	FirstName          string               `json:"first_name"`
	LastName           string               `json:"last_name"`
	Role               program.Role         `json:"role"`
	IsActive           bool                 `json:"is_active"`
	ProgramAssignments []program.Assignment `json:"program_assignments,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Program is an organizational unit of the academy.
type Program struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Course is a class offered within a program.
type Course struct {
	ID           string    `json:"id,omitempty"`
	ProgramID    string    `json:"program_id,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	InstructorID string    `json:"instructor_id,omitempty"`
	Capacity     int       `json:"capacity,omitempty"`
	StartDate    time.Time `json:"start_date,omitzero"`
	EndDate      time.Time `json:"end_date,omitzero"`
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"course_id"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	EnrolledAt time.Time `json:"enrolled_at,omitzero"`
}

// Student is a learner enrolled in a program.
type Student struct {
	ID          string `json:"id,omitempty"`
	ProgramID   string `json:"program_id,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Email       string `json:"email,omitempty"`
	Grade       string `json:"grade,omitempty"`
}

// Parent is a guardian linked to one or more students.
type Parent struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// Facility is a bookable room or venue.
type Facility struct {
	ID        string `json:"id,omitempty"`
	ProgramID string `json:"program_id,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
	Location  string `json:"location,omitempty"`
}

// TimeSlot is one bookable interval.
type TimeSlot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

// Availability lists a facility's slots for one day.
type Availability struct {
	FacilityID string     `json:"facility_id"`
	Date       string     `json:"date"`
	Slots      []TimeSlot `json:"slots"`
}

// Communication is a message sent to parents, students or staff.
type Communication struct {
	ID         string     `json:"id"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	Channel    string     `json:"channel,omitempty"`
	SenderID   string     `json:"sender_id,omitempty"`
	Recipients []string   `json:"recipients,omitempty"`
	SentAt     time.Time  `json:"sent_at,omitzero"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// SendRequest is the body of POST /communications.
type SendRequest struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Channel      string   `json:"channel,omitempty"`
	RecipientIDs []string `json:"recipient_ids"`
}
