package service

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/student-records-api/internal/dto"
	"github.com/noah-isme/student-records-api/internal/models"
	"github.com/noah-isme/student-records-api/internal/validation"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

// StudentStore is the persistence contract for student records. Every lookup
// other than FindByID with ScopeDeleted is restricted to live records.
type StudentStore interface {
	Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string, scope models.RecordScope) (*models.Student, error)
	FindByStudentNumber(ctx context.Context, number string) (*models.Student, error)
	ExistsByStudentNumber(ctx context.Context, number, excludeID string) (bool, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Insert(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

const (
	defaultPage        = 1
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	minSearchLength    = 2

	statsCacheKey     = "students:stats:summary"
	statsCachePattern = "students:stats:*"

	unassignedGrade = "Unassigned"

	statsComputeTimeout = 15 * time.Second
)

// StudentServiceConfig tunes the student service.
type StudentServiceConfig struct {
	StatsCacheTTL time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// StudentService implements the student record lifecycle on top of a StudentStore.
type StudentService struct {
	store     StudentStore
	validator *validation.StudentValidator
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       StudentServiceConfig
	flight    singleflight.Group
	// statsGen advances on every mutation; a stats result computed across a
	// change must not be cached.
	statsGen atomic.Uint64
}

// NewStudentService constructs the student service.
func NewStudentService(store StudentStore, validator *validation.StudentValidator, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg StudentServiceConfig) *StudentService {
	if validator == nil {
		validator = validation.NewStudentValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &StudentService{store: store, validator: validator, cache: cache, metrics: metrics, logger: logger, cfg: cfg}
}

func (s *StudentService) now() time.Time {
	return s.cfg.Clock().UTC()
}

// List returns a page of live students with pagination metadata and the applied filters.
func (s *StudentService) List(ctx context.Context, req dto.ListStudentsRequest) ([]dto.StudentResponse, *models.Pagination, models.StudentFilter, error) {
	page := req.Page
	if page < 1 {
		page = defaultPage
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	from, to := models.PageRange(page, limit)

	filter := req.Filter
	filter.Search = strings.TrimSpace(filter.Search)

	students, total, err := s.store.Query(ctx, models.StudentQuery{
		Filter: filter,
		Sort:   normaliseSort(req.SortBy, req.Order),
		Offset: from,
		Limit:  to - from + 1,
	})
	if err != nil {
		return nil, nil, filter, s.storeFailure("list", err, appErrors.ErrFetch)
	}
	return dto.NewStudentResponses(students, s.now()), models.NewPagination(page, limit, total), filter, nil
}

func normaliseSort(field, order string) models.SortSpec {
	if !slices.Contains(models.StudentSortFields, field) {
		field = "created_at"
	}
	return models.SortSpec{Field: field, Descending: !strings.EqualFold(order, "asc")}
}

// Get returns a live student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*dto.StudentResponse, error) {
	student, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := dto.NewStudentResponse(student, s.now())
	return &resp, nil
}

// GetByStudentNumber returns a live student by student number.
func (s *StudentService) GetByStudentNumber(ctx context.Context, number string) (*dto.StudentResponse, error) {
	if !validation.ValidStudentNumber(number) {
		return nil, appErrors.Clone(appErrors.ErrInvalidFormat, validation.MsgStudentNumberFormat)
	}
	student, err := s.store.FindByStudentNumber(ctx, number)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Student not found")
		}
		return nil, s.storeFailure("find_by_number", err, nil)
	}
	resp := dto.NewStudentResponse(student, s.now())
	return &resp, nil
}

// Create validates and stores a new student on behalf of actor.
func (s *StudentService) Create(ctx context.Context, actor string, fields dto.StudentFields) (*dto.StudentResponse, error) {
	now := s.now()
	if errs := s.validator.Validate(fields, false, now); len(errs) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "Validation failed", errs)
	}

	number, _ := fields["student_number"].(string)
	email := normaliseEmail(fields["email"])
	if err := s.ensureUnique(ctx, number, email, ""); err != nil {
		return nil, err
	}

	male := models.GenderMale
	student := &models.Student{
		ID:               uuid.NewString(),
		EnrollmentStatus: models.EnrollmentPending,
		Gender:           &male,
		Subjects:         []string{},
		CreatedBy:        actor,
		UpdatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if id, ok := fields["id"].(string); ok && id != "" {
		student.ID = id
	}
	applyFields(student, fields)
	if student.Gender == nil {
		student.Gender = &male
	}

	if err := s.store.Insert(ctx, student); err != nil {
		return nil, s.writeFailure("create", err)
	}

	s.afterMutation(ctx, "create", student.ID, actor)
	resp := dto.NewStudentResponse(student, now)
	return &resp, nil
}

// Update applies a full update to a live student. Only supplied fields are validated.
func (s *StudentService) Update(ctx context.Context, actor, id string, fields dto.StudentFields) (*dto.StudentResponse, error) {
	current, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if errs := s.validator.Validate(fields, true, now); len(errs) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "Validation failed", errs)
	}

	var number, email string
	if raw, ok := fields["student_number"].(string); ok && raw != current.StudentNumber {
		number = raw
	}
	if _, ok := fields["email"]; ok {
		if candidate := normaliseEmail(fields["email"]); candidate != current.Email {
			email = candidate
		}
	}
	if err := s.ensureUnique(ctx, number, email, current.ID); err != nil {
		return nil, err
	}

	return s.persistUpdate(ctx, "update", actor, current, fields, now)
}

// Patch applies a partial update restricted to dto.PatchableFields.
func (s *StudentService) Patch(ctx context.Context, actor, id string, fields dto.StudentFields) (*dto.StudentResponse, error) {
	var rejected []string
	for key := range fields {
		if !slices.Contains(dto.PatchableFields, key) {
			rejected = append(rejected, key)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, appErrors.WithDetails(appErrors.ErrInvalidFields,
			"Invalid fields for partial update: "+strings.Join(rejected, ", "), rejected)
	}
	if len(fields) == 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "Validation failed", []string{"At least one field must be provided"})
	}

	now := s.now()
	if errs := s.validator.Validate(fields, true, now); len(errs) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "Validation failed", errs)
	}

	current, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.persistUpdate(ctx, "patch", actor, current, fields, now)
}

// UpdateStatus changes only the enrollment status of a live student.
func (s *StudentService) UpdateStatus(ctx context.Context, actor, id, status string) (*dto.StudentResponse, error) {
	return s.Patch(ctx, actor, id, dto.StudentFields{"enrollment_status": status})
}

func (s *StudentService) persistUpdate(ctx context.Context, op, actor string, student *models.Student, fields dto.StudentFields, now time.Time) (*dto.StudentResponse, error) {
	applyFields(student, fields)
	student.UpdatedBy = actor
	student.UpdatedAt = now

	if err := s.store.Update(ctx, student); err != nil {
		return nil, s.writeFailure(op, err)
	}

	s.afterMutation(ctx, op, student.ID, actor)
	resp := dto.NewStudentResponse(student, now)
	return &resp, nil
}

// Delete soft-deletes a live student.
func (s *StudentService) Delete(ctx context.Context, actor, id string) (*dto.DeleteStudentResponse, error) {
	student, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	student.DeletedAt = &now
	student.DeletedBy = &actor
	student.UpdatedAt = now
	student.UpdatedBy = actor

	if err := s.store.Update(ctx, student); err != nil {
		return nil, s.writeFailure("delete", err)
	}

	s.afterMutation(ctx, "delete", student.ID, actor)
	return &dto.DeleteStudentResponse{ID: student.ID, DeletedAt: now}, nil
}

// Restore reinstates a soft-deleted student as active.
func (s *StudentService) Restore(ctx context.Context, actor, id string) (*dto.StudentResponse, error) {
	student, err := s.store.FindByID(ctx, id, models.ScopeDeleted)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Deleted student not found")
		}
		return nil, s.storeFailure("find_deleted", err, nil)
	}

	if err := s.ensureUnique(ctx, student.StudentNumber, student.Email, student.ID); err != nil {
		return nil, err
	}

	now := s.now()
	student.DeletedAt = nil
	student.DeletedBy = nil
	student.EnrollmentStatus = models.EnrollmentActive
	student.UpdatedAt = now
	student.UpdatedBy = actor

	if err := s.store.Update(ctx, student); err != nil {
		return nil, s.writeFailure("restore", err)
	}

	s.afterMutation(ctx, "restore", student.ID, actor)
	resp := dto.NewStudentResponse(student, now)
	return &resp, nil
}

// Search matches name, number or email substrings case-insensitively among live students.
func (s *StudentService) Search(ctx context.Context, query string, limit int) ([]dto.StudentResponse, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchLength {
		return nil, appErrors.ErrInvalidQuery
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	students, _, err := s.store.Query(ctx, models.StudentQuery{
		Filter: models.StudentFilter{Search: query},
		Sort:   models.SortSpec{Field: "full_name"},
		Limit:  limit,
	})
	if err != nil {
		return nil, s.storeFailure("search", err, nil)
	}
	return dto.NewStudentResponses(students, s.now()), nil
}

// Stats summarises the live student population. Results are cached and
// concurrent cache misses share a single computation.
func (s *StudentService) Stats(ctx context.Context) (*models.StudentStats, error) {
	var cached models.StudentStats
	if s.cache.Get(ctx, statsCacheKey, &cached) {
		return &cached, nil
	}

	// Detached from the first caller: joined waiters share its outcome.
	result, err, _ := s.flight.Do(statsCacheKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsComputeTimeout)
		defer cancel()

		gen := s.statsGen.Load()
		stats, err := s.computeStats(fctx)
		if err != nil {
			return nil, err
		}
		if s.statsGen.Load() == gen {
			s.cache.Set(fctx, statsCacheKey, stats, s.cfg.StatsCacheTTL)
			if s.statsGen.Load() != gen {
				s.cache.Invalidate(fctx, statsCachePattern)
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, s.storeFailure("stats", err, appErrors.ErrServer)
	}
	return result.(*models.StudentStats), nil
}

func (s *StudentService) computeStats(ctx context.Context) (*models.StudentStats, error) {
	var (
		active   []models.Student
		byStatus map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, _, err = s.store.Query(gctx, models.StudentQuery{
			Filter: models.StudentFilter{EnrollmentStatus: models.EnrollmentActive},
		})
		return err
	})
	g.Go(func() error {
		var err error
		byStatus, err = s.store.CountByStatus(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	stats := &models.StudentStats{
		TotalActive:        len(active),
		ByGender:           map[string]int{},
		ByGradeLevel:       map[string]int{},
		ByEnrollmentStatus: map[string]int{},
		GeneratedAt:        now,
	}
	for _, gender := range models.Genders {
		stats.ByGender[gender] = 0
	}
	for _, status := range models.EnrollmentStatuses {
		stats.ByEnrollmentStatus[status] = byStatus[status]
	}

	var ageSum int
	for _, student := range active {
		if student.Gender != nil {
			stats.ByGender[*student.Gender]++
		}
		grade := unassignedGrade
		if student.GradeLevel != nil && *student.GradeLevel != "" {
			grade = *student.GradeLevel
		}
		stats.ByGradeLevel[grade]++

		if student.BirthDate == nil {
			continue
		}
		age := models.AgeOn(*student.BirthDate, now)
		if stats.Age.Sample == 0 || age < stats.Age.Min {
			stats.Age.Min = age
		}
		if age > stats.Age.Max {
			stats.Age.Max = age
		}
		ageSum += age
		stats.Age.Sample++
	}
	if stats.Age.Sample > 0 {
		stats.Age.Average = math.Round(float64(ageSum)/float64(stats.Age.Sample)*10) / 10
	}
	return stats, nil
}

func (s *StudentService) loadLive(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.store.FindByID(ctx, id, models.ScopeLive)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Student not found")
		}
		return nil, s.storeFailure("find_by_id", err, nil)
	}
	return student, nil
}

// ensureUnique checks the student number first, then the email. Empty values are skipped.
func (s *StudentService) ensureUnique(ctx context.Context, number, email, excludeID string) error {
	if number != "" {
		taken, err := s.store.ExistsByStudentNumber(ctx, number, excludeID)
		if err != nil {
			return s.storeFailure("exists_by_number", err, nil)
		}
		if taken {
			return appErrors.Clone(appErrors.ErrDuplicateStudentNumber, "Student number already exists")
		}
	}
	if email != "" {
		taken, err := s.store.ExistsByEmail(ctx, email, excludeID)
		if err != nil {
			return s.storeFailure("exists_by_email", err, nil)
		}
		if taken {
			return appErrors.Clone(appErrors.ErrDuplicateEmail, "Email already exists")
		}
	}
	return nil
}

// writeFailure maps store write errors, turning constraint violations into conflicts.
func (s *StudentService) writeFailure(op string, err error) error {
	var dup *models.DuplicateError
	if errors.As(err, &dup) {
		switch dup.Field {
		case "email":
			return appErrors.Clone(appErrors.ErrDuplicateEmail, "Email already exists")
		case "id":
			return appErrors.Clone(appErrors.ErrDuplicateID, "Student id already exists")
		}
		return appErrors.Clone(appErrors.ErrDuplicateStudentNumber, "Student number already exists")
	}
	if errors.Is(err, models.ErrRecordNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, "Student not found")
	}
	return s.storeFailure(op, err, nil)
}

func (s *StudentService) storeFailure(op string, err error, template *appErrors.Error) error {
	s.logger.Error("student store failure", zap.String("operation", op), zap.Error(err))
	return appErrors.Store(err, template)
}

func (s *StudentService) afterMutation(ctx context.Context, op, id, actor string) {
	s.statsGen.Add(1)
	s.flight.Forget(statsCacheKey)
	s.cache.Invalidate(ctx, statsCachePattern)
	s.metrics.RecordStudentMutation(op)
	s.logger.Info("student mutated", zap.String("operation", op), zap.String("student_id", id), zap.String("actor", actor))
}

// applyFields copies the supplied, already validated fields onto student.
// Audit fields and the id are never taken from the payload.
func applyFields(student *models.Student, fields dto.StudentFields) {
	for key, raw := range fields {
		switch key {
		case "full_name":
			if v, ok := raw.(string); ok {
				student.FullName = strings.TrimSpace(v)
			}
		case "student_number":
			if v, ok := raw.(string); ok {
				student.StudentNumber = v
			}
		case "email":
			student.Email = normaliseEmail(raw)
		case "enrollment_status":
			if v, ok := raw.(string); ok {
				student.EnrollmentStatus = v
			}
		case "birth_date":
			student.BirthDate = nil
			if v, ok := raw.(string); ok && v != "" {
				if d, err := validation.ParseDate(v); err == nil {
					student.BirthDate = &d
				}
			}
		case "subjects":
			subjects, _ := validation.Subjects(raw)
			if subjects == nil {
				subjects = []string{}
			}
			student.Subjects = subjects
		case "phone":
			student.Phone = optionalText(raw)
		case "gender":
			student.Gender = optionalText(raw)
		case "grade_level":
			student.GradeLevel = optionalText(raw)
		case "home_address":
			student.HomeAddress = optionalText(raw)
		case "parent_name":
			student.ParentName = optionalText(raw)
		case "parent_phone":
			student.ParentPhone = optionalText(raw)
		case "notes":
			student.Notes = optionalText(raw)
		}
	}
}

func optionalText(raw interface{}) *string {
	v, ok := raw.(string)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func normaliseEmail(raw interface{}) string {
	v, _ := raw.(string)
	return strings.ToLower(strings.TrimSpace(v))
}
