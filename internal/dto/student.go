package dto

import (
	"time"

	"github.com/noah-isme/student-records-api/internal/models"
	"github.com/noah-isme/student-records-api/internal/validation"
)

// StudentFields is a decoded JSON payload keyed by snake_case field name.
type StudentFields map[string]interface{}

// PatchableFields is the allow-list for partial updates.
var PatchableFields = []string{
	"enrollment_status",
	"grade_level",
	"subjects",
	"phone",
	"home_address",
	"parent_name",
	"parent_phone",
	"notes",
}

// ListStudentsRequest captures list query parameters before normalisation.
type ListStudentsRequest struct {
	Filter models.StudentFilter
	SortBy string
	Order  string
	Page   int
	Limit  int
}

// StatusUpdateRequest changes only the enrollment status.
type StatusUpdateRequest struct {
	EnrollmentStatus string `json:"enrollment_status" binding:"required"`
}

// StudentResponse is the public representation of a student with derived age.
type StudentResponse struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	StudentNumber    string     `json:"student_number"`
	Email            string     `json:"email"`
	Phone            *string    `json:"phone"`
	BirthDate        *string    `json:"birth_date"`
	Age              *int       `json:"age"`
	Gender           *string    `json:"gender"`
	EnrollmentStatus string     `json:"enrollment_status"`
	GradeLevel       *string    `json:"grade_level"`
	Subjects         []string   `json:"subjects"`
	HomeAddress      *string    `json:"home_address"`
	ParentName       *string    `json:"parent_name"`
	ParentPhone      *string    `json:"parent_phone"`
	Notes            *string    `json:"notes"`
	CreatedBy        string     `json:"created_by"`
	UpdatedBy        string     `json:"updated_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// NewStudentResponse renders a record, deriving age relative to now.
func NewStudentResponse(s *models.Student, now time.Time) StudentResponse {
	resp := StudentResponse{
		ID:               s.ID,
		FullName:         s.FullName,
		StudentNumber:    s.StudentNumber,
		Email:            s.Email,
		Phone:            s.Phone,
		Gender:           s.Gender,
		EnrollmentStatus: s.EnrollmentStatus,
		GradeLevel:       s.GradeLevel,
		Subjects:         []string(s.Subjects),
		HomeAddress:      s.HomeAddress,
		ParentName:       s.ParentName,
		ParentPhone:      s.ParentPhone,
		Notes:            s.Notes,
		CreatedBy:        s.CreatedBy,
		UpdatedBy:        s.UpdatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		DeletedAt:        s.DeletedAt,
	}
	if resp.Subjects == nil {
		resp.Subjects = []string{}
	}
	if s.BirthDate != nil {
		date := validation.FormatDate(*s.BirthDate)
		age := models.AgeOn(*s.BirthDate, now)
		resp.BirthDate = &date
		resp.Age = &age
	}
	return resp
}

// NewStudentResponses renders a slice of records.
func NewStudentResponses(students []models.Student, now time.Time) []StudentResponse {
	out := make([]StudentResponse, 0, len(students))
	for i := range students {
		out = append(out, NewStudentResponse(&students[i], now))
	}
	return out
}

// DeleteStudentResponse reports a completed soft delete.
type DeleteStudentResponse struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportFile is a rendered roster download.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}
