package models

import (
	"time"

	"github.com/lib/pq"
)

// Enrollment statuses a student record moves through.
const (
	EnrollmentPending   = "pending"
	EnrollmentActive    = "active"
	EnrollmentSuspended = "suspended"
	EnrollmentGraduated = "graduated"
	EnrollmentWithdrawn = "withdrawn"
)

// Genders accepted on a student record.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
)

var (
	// EnrollmentStatuses lists every accepted enrollment_status value.
	EnrollmentStatuses = []string{EnrollmentPending, EnrollmentActive, EnrollmentSuspended, EnrollmentGraduated, EnrollmentWithdrawn}
	// GradeLevels lists every accepted grade_level value.
	GradeLevels = []string{"Grade 8", "Grade 9", "Grade 10", "Grade 11", "Freshman", "Sophomore", "Junior", "Senior"}
	// Genders lists every accepted gender value.
	Genders = []string{GenderMale, GenderFemale}
)

// Student is a learner record. A record is live while DeletedAt is nil.
type Student struct {
	ID               string         `db:"id" bson:"_id" json:"id"`
	FullName         string         `db:"full_name" bson:"full_name" json:"full_name"`
	StudentNumber    string         `db:"student_number" bson:"student_number" json:"student_number"`
	Email            string         `db:"email" bson:"email" json:"email"`
	Phone            *string        `db:"phone" bson:"phone" json:"phone"`
	BirthDate        *time.Time     `db:"birth_date" bson:"birth_date" json:"birth_date"`
	Gender           *string        `db:"gender" bson:"gender" json:"gender"`
	EnrollmentStatus string         `db:"enrollment_status" bson:"enrollment_status" json:"enrollment_status"`
	GradeLevel       *string        `db:"grade_level" bson:"grade_level" json:"grade_level"`
	Subjects         pq.StringArray `db:"subjects" bson:"subjects" json:"subjects"`
	HomeAddress      *string        `db:"home_address" bson:"home_address" json:"home_address"`
	ParentName       *string        `db:"parent_name" bson:"parent_name" json:"parent_name"`
	ParentPhone      *string        `db:"parent_phone" bson:"parent_phone" json:"parent_phone"`
	Notes            *string        `db:"notes" bson:"notes" json:"notes"`
	CreatedBy        string         `db:"created_by" bson:"created_by" json:"created_by"`
	UpdatedBy        string         `db:"updated_by" bson:"updated_by" json:"updated_by"`
	DeletedBy        *string        `db:"deleted_by" bson:"deleted_by" json:"deleted_by"`
	CreatedAt        time.Time      `db:"created_at" bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" bson:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time     `db:"deleted_at" bson:"deleted_at" json:"deleted_at"`
}

// Live reports whether the record has not been soft-deleted.
func (s *Student) Live() bool {
	return s != nil && s.DeletedAt == nil
}

// RecordScope selects which side of the soft-delete line a lookup targets.
type RecordScope int

const (
	// ScopeLive matches records with deleted_at unset.
	ScopeLive RecordScope = iota
	// ScopeDeleted matches soft-deleted records only.
	ScopeDeleted
)

// StudentFilter holds equality filters and the free-text search term.
type StudentFilter struct {
	EnrollmentStatus string `json:"enrollment_status,omitempty"`
	GradeLevel       string `json:"grade_level,omitempty"`
	Gender           string `json:"gender,omitempty"`
	Search           string `json:"search,omitempty"`
}

// SortSpec names an allow-listed sort column and direction.
type SortSpec struct {
	Field      string
	Descending bool
}

// StudentQuery is the storage-agnostic filter, sort and page handed to a record store.
// Queries always target live records. A Limit <= 0 means no limit.
type StudentQuery struct {
	Filter StudentFilter
	Sort   SortSpec
	Offset int
	Limit  int
}

// Sortable student columns.
var StudentSortFields = []string{"created_at", "updated_at", "full_name", "student_number", "email", "grade_level", "enrollment_status"}

// AgeDistribution summarises ages of students with a birth date.
type AgeDistribution struct {
	Average float64 `json:"average"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Sample  int     `json:"sample"`
}

// StudentStats aggregates the live student population.
type StudentStats struct {
	TotalActive        int             `json:"total_active"`
	ByGender           map[string]int  `json:"by_gender"`
	ByGradeLevel       map[string]int  `json:"by_grade_level"`
	Age                AgeDistribution `json:"age"`
	ByEnrollmentStatus map[string]int  `json:"by_enrollment_status"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// AgeOn returns the age in whole years on the given day: the year difference,
// minus one when the birthday has not yet occurred that year.
func AgeOn(birth, on time.Time) int {
	age := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		age--
	}
	return age
}
