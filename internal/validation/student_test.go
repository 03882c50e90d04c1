package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2024, time.June, 14, 10, 0, 0, 0, time.UTC)

func validFields() map[string]interface{} {
	return map[string]interface{}{
		"full_name":      "Jo Lee",
		"student_number": "202400123",
		"email":          "JO@EX.com",
		"gender":         "Male",
	}
}

func TestValidateFullModeAcceptsMinimalRecord(t *testing.T) {
	assert.Empty(t, NewStudentValidator().Validate(validFields(), false, fixedNow))
}

func TestValidateFullModeReportsAllMissing(t *testing.T) {
	errs := NewStudentValidator().Validate(map[string]interface{}{}, false, fixedNow)
	assert.Equal(t, []string{MsgFullName, MsgStudentNumberRequired, MsgEmailRequired}, errs)
}

func TestValidatePartialModeChecksOnlyPresent(t *testing.T) {
	sv := NewStudentValidator()
	assert.Empty(t, sv.Validate(map[string]interface{}{"grade_level": "Junior"}, true, fixedNow))
	assert.Equal(t, []string{MsgGradeLevel}, sv.Validate(map[string]interface{}{"grade_level": "Grade 12"}, true, fixedNow))
}

func TestValidateStudentNumber(t *testing.T) {
	sv := NewStudentValidator()
	cases := map[string]string{
		"12345678":   MsgStudentNumberFormat,
		"1234567890": MsgStudentNumberFormat,
		"12345678a":  MsgStudentNumberFormat,
		"-12345678":  MsgStudentNumberFormat,
		"000000000":  MsgStudentNumberReserved,
		"123456789":  MsgStudentNumberReserved,
	}
	for number, want := range cases {
		fields := validFields()
		fields["student_number"] = number
		assert.Equal(t, []string{want}, sv.Validate(fields, false, fixedNow), number)
	}

	fields := validFields()
	fields["student_number"] = 202400123
	assert.Equal(t, []string{MsgStudentNumberRequired}, sv.Validate(fields, false, fixedNow))
}

func TestValidateEnumerations(t *testing.T) {
	sv := NewStudentValidator()
	fields := validFields()
	fields["gender"] = "male"
	fields["enrollment_status"] = "expelled"
	fields["grade_level"] = "Grade 8"
	assert.Equal(t, []string{MsgGender, MsgEnrollmentStatus}, sv.Validate(fields, false, fixedNow))

	fields = validFields()
	fields["gender"] = nil
	fields["grade_level"] = nil
	assert.Empty(t, sv.Validate(fields, false, fixedNow))

	fields["enrollment_status"] = nil
	assert.Equal(t, []string{MsgEnrollmentStatus}, sv.Validate(fields, false, fixedNow))
}

func TestValidateBirthDate(t *testing.T) {
	sv := NewStudentValidator()
	cases := []struct {
		value string
		want  []string
	}{
		{"2011-06-14", nil},
		{"2011-06-15", []string{MsgBirthDateTooYoung}},
		{"1900-01-02", nil},
		{"1900-01-01", []string{MsgBirthDateTooEarly}},
		{"2011-06-14T08:00:00Z", nil},
		{"14/06/2011", []string{MsgBirthDateFormat}},
	}
	for _, tc := range cases {
		errs := sv.Validate(map[string]interface{}{"birth_date": tc.value}, true, fixedNow)
		assert.Equal(t, tc.want, errs, tc.value)
	}
}

func TestValidateBirthDateOnLeapDay(t *testing.T) {
	sv := NewStudentValidator()
	leapDay := time.Date(2028, time.February, 29, 10, 0, 0, 0, time.UTC)

	assert.Empty(t, sv.Validate(map[string]interface{}{"birth_date": "2015-02-28"}, true, leapDay))
	assert.Equal(t, []string{MsgBirthDateTooYoung}, sv.Validate(map[string]interface{}{"birth_date": "2015-03-01"}, true, leapDay))

	dayAfter := time.Date(2029, time.February, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{MsgBirthDateTooYoung}, sv.Validate(map[string]interface{}{"birth_date": "2016-02-29"}, true, dayAfter))
	assert.Empty(t, sv.Validate(map[string]interface{}{"birth_date": "2016-02-29"}, true, dayAfter.AddDate(0, 0, 1)))
}

func TestValidatePhones(t *testing.T) {
	sv := NewStudentValidator()
	assert.Empty(t, sv.Validate(map[string]interface{}{"phone": "+14155550123", "parent_phone": "442071838750"}, true, fixedNow))
	assert.Empty(t, sv.Validate(map[string]interface{}{"phone": "", "parent_phone": nil}, true, fixedNow))
	assert.Equal(t,
		[]string{MsgPhone, MsgParentPhone},
		sv.Validate(map[string]interface{}{"phone": "0123", "parent_phone": "+1 415 555"}, true, fixedNow))
}

func TestValidateAuxiliaryFieldTypes(t *testing.T) {
	sv := NewStudentValidator()
	errs := sv.Validate(map[string]interface{}{
		"subjects":     []interface{}{"Math", 3},
		"home_address": 42,
		"notes":        "ok",
		"id":           "not-a-uuid",
	}, true, fixedNow)
	assert.Equal(t, []string{MsgID, MsgSubjects, "Home address must be text"}, errs)
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	errs := NewStudentValidator().Validate(map[string]interface{}{
		"full_name":      " J ",
		"student_number": "123456789",
		"email":          "nope",
		"phone":          "abc",
	}, false, fixedNow)
	assert.Equal(t, []string{MsgFullName, MsgStudentNumberReserved, MsgEmailInvalid, MsgPhone}, errs)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2010-06-15")
	assert.NoError(t, err)
	assert.Equal(t, "2010-06-15", FormatDate(d))

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	got, ok := Subjects([]interface{}{" Math ", "Art"})
	assert.True(t, ok)
	assert.Equal(t, []string{"Math", "Art"}, got)

	_, ok = Subjects("Math")
	assert.False(t, ok)
}
