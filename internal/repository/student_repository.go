package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/student-records-api/internal/models"
)

const (
	studentColumns = `id, full_name, student_number, email, phone, birth_date, gender, enrollment_status, grade_level, subjects,
        home_address, parent_name, parent_phone, notes, created_by, updated_by, deleted_by, created_at, updated_at, deleted_at`

	liveClause    = "deleted_at IS NULL"
	deletedClause = "deleted_at IS NOT NULL"

	pqUniqueViolation      = "23505"
	pqInvalidTextEncoding  = "22P02"
	studentNumberLiveIndex = "students_student_number_live_key"
	emailLiveIndex         = "students_email_live_key"
	primaryKeyIndex        = "students_pkey"
)

var studentSortColumns = map[string]string{
	"created_at":        "created_at",
	"updated_at":        "updated_at",
	"full_name":         "full_name",
	"student_number":    "student_number",
	"email":             "email",
	"grade_level":       "grade_level",
	"enrollment_status": "enrollment_status",
}

// StudentRepository persists student records in PostgreSQL.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Query returns live students matching q and the total match count.
func (r *StudentRepository) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	where, args := buildStudentWhere(q.Filter)

	column, ok := studentSortColumns[q.Sort.Field]
	if !ok {
		column = "created_at"
	}
	order := "ASC"
	if q.Sort.Descending {
		order = "DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY %s %s, id ASC", studentColumns, where, column, order)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, max(q.Offset, 0))
	}

	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

func buildStudentWhere(filter models.StudentFilter) (string, []interface{}) {
	conditions := []string{liveClause}
	args := []interface{}{}

	if filter.EnrollmentStatus != "" {
		args = append(args, filter.EnrollmentStatus)
		conditions = append(conditions, fmt.Sprintf("enrollment_status = $%d", len(args)))
	}
	if filter.GradeLevel != "" {
		args = append(args, filter.GradeLevel)
		conditions = append(conditions, fmt.Sprintf("grade_level = $%d", len(args)))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR student_number ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	return strings.Join(conditions, " AND "), args
}

// escapeLike neutralises LIKE wildcards so caller input is matched literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindByID fetches a student by id within the requested scope.
func (r *StudentRepository) FindByID(ctx context.Context, id string, scope models.RecordScope) (*models.Student, error) {
	clause := liveClause
	if scope == models.ScopeDeleted {
		clause = deletedClause
	}
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1 AND %s", studentColumns, clause)
	return r.getOne(ctx, query, id)
}

// FindByStudentNumber fetches a live student by student number.
func (r *StudentRepository) FindByStudentNumber(ctx context.Context, number string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE student_number = $1 AND %s", studentColumns, liveClause)
	return r.getOne(ctx, query, number)
}

func (r *StudentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pqInvalidTextEncoding {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}

// ExistsByStudentNumber checks live records for a student number, optionally excluding an id.
func (r *StudentRepository) ExistsByStudentNumber(ctx context.Context, number, excludeID string) (bool, error) {
	return r.exists(ctx, "student_number = $1", number, excludeID)
}

// ExistsByEmail checks live records for an email case-insensitively, optionally excluding an id.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return r.exists(ctx, "lower(email) = lower($1)", email, excludeID)
}

func (r *StudentRepository) exists(ctx context.Context, predicate, value, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE " + predicate + " AND " + liveClause
	args := []interface{}{value}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var found int
	if err := r.db.GetContext(ctx, &found, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check student uniqueness: %w", err)
	}
	return true, nil
}

// Insert stores a new student record.
func (r *StudentRepository) Insert(ctx context.Context, student *models.Student) error {
	const query = `INSERT INTO students (id, full_name, student_number, email, phone, birth_date, gender, enrollment_status, grade_level, subjects,
        home_address, parent_name, parent_phone, notes, created_by, updated_by, deleted_by, created_at, updated_at, deleted_at)
        VALUES (:id, :full_name, :student_number, :email, :phone, :birth_date, :gender, :enrollment_status, :grade_level, :subjects,
        :home_address, :parent_name, :parent_phone, :notes, :created_by, :updated_by, :deleted_by, :created_at, :updated_at, :deleted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return translateWriteError("create student", err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing student. created_by and created_at are never written.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	const query = `UPDATE students SET full_name = :full_name, student_number = :student_number, email = :email, phone = :phone,
        birth_date = :birth_date, gender = :gender, enrollment_status = :enrollment_status, grade_level = :grade_level, subjects = :subjects,
        home_address = :home_address, parent_name = :parent_name, parent_phone = :parent_phone, notes = :notes,
        updated_by = :updated_by, deleted_by = :deleted_by, updated_at = :updated_at, deleted_at = :deleted_at
        WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return translateWriteError("update student", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// CountByStatus groups live students by enrollment status.
func (r *StudentRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"enrollment_status"`
		Total  int    `db:"total"`
	}
	const query = "SELECT enrollment_status, COUNT(*) AS total FROM students WHERE " + liveClause + " GROUP BY enrollment_status"
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count students by status: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// Ping verifies database connectivity.
func (r *StudentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func translateWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		switch pqErr.Constraint {
		case studentNumberLiveIndex:
			return &models.DuplicateError{Field: "student_number", Err: err}
		case emailLiveIndex:
			return &models.DuplicateError{Field: "email", Err: err}
		case primaryKeyIndex:
			return &models.DuplicateError{Field: "id", Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
