package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/student-records-api/internal/models"
)

// Violation messages returned by StudentValidator.
const (
	MsgFullName              = "Full name is required and must be at least 2 characters"
	MsgStudentNumberRequired = "Student number is required"
	MsgStudentNumberFormat   = "Student number must be exactly 9 digits"
	MsgStudentNumberReserved = "Student number is not valid"
	MsgEmailRequired         = "Email is required"
	MsgEmailInvalid          = "Email is not valid"
	MsgGender                = "Gender must be one of: Male, Female"
	MsgGradeLevel            = "Grade level is not valid"
	MsgEnrollmentStatus      = "Enrollment status is not valid"
	MsgBirthDateFormat       = "Birth date must be a valid date (YYYY-MM-DD)"
	MsgBirthDateTooEarly     = "Birth date must be on or after 1900-01-02"
	MsgBirthDateTooYoung     = "Student must be at least 13 years old"
	MsgPhone                 = "Phone number must be in international format"
	MsgParentPhone           = "Parent phone number must be in international format"
	MsgSubjects              = "Subjects must be a list of text values"
	MsgID                    = "Id must be a valid UUID"
)

const (
	// MinimumAge is the youngest age accepted for a birth date.
	MinimumAge = 13
	dateLayout = "2006-01-02"
)

var (
	studentNumberPattern = regexp.MustCompile(`^\d{9}$`)
	phonePattern         = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	reservedNumbers      = []string{"000000000", "123456789"}
	earliestBirthDate    = time.Date(1900, time.January, 2, 0, 0, 0, 0, time.UTC)

	textFields = []struct{ key, label string }{
		{"home_address", "Home address"},
		{"parent_name", "Parent name"},
		{"notes", "Notes"},
	}
)

// StudentValidator checks candidate student field sets. It performs no I/O.
type StudentValidator struct {
	v *validator.Validate
}

// NewStudentValidator registers the student tags on a fresh validator instance.
func NewStudentValidator() *StudentValidator {
	v := validator.New()
	_ = v.RegisterValidation("student_number", func(fl validator.FieldLevel) bool {
		return studentNumberPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("intl_phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return &StudentValidator{v: v}
}

// Validate returns every violation found in fields. In partial mode only the
// keys present in fields are checked; otherwise required keys must be present.
// An empty result means the field set is valid.
func (sv *StudentValidator) Validate(fields map[string]interface{}, partial bool, now time.Time) []string {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	if raw, ok := fields["id"]; ok && raw != nil {
		if s, isText := raw.(string); !isText || sv.v.Var(s, "uuid") != nil {
			add(MsgID)
		}
	}

	if raw, ok := fields["full_name"]; ok || !partial {
		s, isText := raw.(string)
		if !isText || len([]rune(strings.TrimSpace(s))) < 2 {
			add(MsgFullName)
		}
	}

	if raw, ok := fields["student_number"]; ok || !partial {
		s, _ := raw.(string)
		switch {
		case s == "":
			add(MsgStudentNumberRequired)
		case sv.v.Var(s, "student_number") != nil:
			add(MsgStudentNumberFormat)
		case slices.Contains(reservedNumbers, s):
			add(MsgStudentNumberReserved)
		}
	}

	if raw, ok := fields["email"]; ok || !partial {
		s, _ := raw.(string)
		s = strings.TrimSpace(s)
		switch {
		case s == "":
			add(MsgEmailRequired)
		case sv.v.Var(s, "email") != nil:
			add(MsgEmailInvalid)
		}
	}

	if raw, ok := fields["gender"]; ok && raw != nil {
		if !oneOf(raw, models.Genders) {
			add(MsgGender)
		}
	}

	if raw, ok := fields["grade_level"]; ok && raw != nil {
		if !oneOf(raw, models.GradeLevels) {
			add(MsgGradeLevel)
		}
	}

	if raw, ok := fields["enrollment_status"]; ok {
		if !oneOf(raw, models.EnrollmentStatuses) {
			add(MsgEnrollmentStatus)
		}
	}

	if raw, ok := fields["birth_date"]; ok && raw != nil && raw != "" {
		if msg := checkBirthDate(raw, now); msg != "" {
			add(msg)
		}
	}

	if raw, ok := fields["phone"]; ok && !sv.optionalPhone(raw) {
		add(MsgPhone)
	}

	if raw, ok := fields["subjects"]; ok && raw != nil {
		if _, valid := Subjects(raw); !valid {
			add(MsgSubjects)
		}
	}

	for _, f := range textFields {
		if raw, ok := fields[f.key]; ok && raw != nil {
			if _, isText := raw.(string); !isText {
				add(fmt.Sprintf("%s must be text", f.label))
			}
		}
	}

	if raw, ok := fields["parent_phone"]; ok && !sv.optionalPhone(raw) {
		add(MsgParentPhone)
	}

	return errs
}

// optionalPhone accepts null, the empty string, or an international number.
func (sv *StudentValidator) optionalPhone(raw interface{}) bool {
	if raw == nil {
		return true
	}
	s, isText := raw.(string)
	if !isText {
		return false
	}
	return s == "" || sv.v.Var(s, "intl_phone") == nil
}

func checkBirthDate(raw interface{}, now time.Time) string {
	s, isText := raw.(string)
	if !isText {
		return MsgBirthDateFormat
	}
	birth, err := ParseDate(s)
	if err != nil {
		return MsgBirthDateFormat
	}
	if birth.Before(earliestBirthDate) {
		return MsgBirthDateTooEarly
	}
	if models.AgeOn(birth, now) < MinimumAge {
		return MsgBirthDateTooYoung
	}
	return ""
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Subjects converts a decoded JSON array into a list of subject names.
func Subjects(raw interface{}) ([]string, bool) {
	switch list := raw.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, true
	default:
		return nil, false
	}
}

// ValidStudentNumber reports whether s has the nine-digit student number shape.
func ValidStudentNumber(s string) bool {
	return studentNumberPattern.MatchString(s)
}

func oneOf(raw interface{}, allowed []string) bool {
	s, ok := raw.(string)
	return ok && slices.Contains(allowed, s)
}
