package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/dto"
	"github.com/noah-isme/student-records-api/internal/models"
	"github.com/noah-isme/student-records-api/internal/validation"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

var serviceNow = time.Date(2024, time.June, 14, 9, 30, 0, 0, time.UTC)

// memoryStudentStore is an in-memory StudentStore that mirrors the live/deleted
// scoping and uniqueness rules of the real stores.
type memoryStudentStore struct {
	mu        sync.Mutex
	students  map[string]models.Student
	queries   []models.StudentQuery
	err       error
	statusErr error
}

func newMemoryStore(seed ...models.Student) *memoryStudentStore {
	m := &memoryStudentStore{students: map[string]models.Student{}}
	for _, s := range seed {
		m.students[s.ID] = s
	}
	return m
}

func (m *memoryStudentStore) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, 0, m.err
	}

	var matched []models.Student
	for _, s := range m.students {
		if !s.Live() || !matchesFilter(s, q.Filter) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := sortKey(matched[i], q.Sort.Field), sortKey(matched[j], q.Sort.Field)
		if a == b {
			return matched[i].ID < matched[j].ID
		}
		if q.Sort.Descending {
			return a > b
		}
		return a < b
	})

	total := len(matched)
	if q.Limit > 0 {
		if q.Offset >= len(matched) {
			return []models.Student{}, total, nil
		}
		end := q.Offset + q.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[q.Offset:end]
	}
	return matched, total, nil
}

func matchesFilter(s models.Student, f models.StudentFilter) bool {
	if f.EnrollmentStatus != "" && s.EnrollmentStatus != f.EnrollmentStatus {
		return false
	}
	if f.GradeLevel != "" && (s.GradeLevel == nil || *s.GradeLevel != f.GradeLevel) {
		return false
	}
	if f.Gender != "" && (s.Gender == nil || *s.Gender != f.Gender) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		return strings.Contains(strings.ToLower(s.FullName), needle) ||
			strings.Contains(s.StudentNumber, needle) ||
			strings.Contains(strings.ToLower(s.Email), needle)
	}
	return true
}

func sortKey(s models.Student, field string) string {
	switch field {
	case "full_name":
		return s.FullName
	case "student_number":
		return s.StudentNumber
	case "email":
		return s.Email
	default:
		return s.CreatedAt.Format(time.RFC3339Nano)
	}
}

func (m *memoryStudentStore) FindByID(ctx context.Context, id string, scope models.RecordScope) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.students[id]
	if !ok || s.Live() != (scope == models.ScopeLive) {
		return nil, models.ErrRecordNotFound
	}
	return &s, nil
}

func (m *memoryStudentStore) FindByStudentNumber(ctx context.Context, number string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Live() && s.StudentNumber == number {
			return &s, nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (m *memoryStudentStore) ExistsByStudentNumber(ctx context.Context, number, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Live() && s.StudentNumber == number && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStudentStore) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Live() && strings.EqualFold(s.Email, email) && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStudentStore) Insert(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.students[student.ID]; ok {
		return &models.DuplicateError{Field: "id", Err: errors.New("primary key violation")}
	}
	m.students[student.ID] = *student
	return nil
}

func (m *memoryStudentStore) Update(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.students[student.ID]; !ok {
		return models.ErrRecordNotFound
	}
	m.students[student.ID] = *student
	return nil
}

func (m *memoryStudentStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	counts := map[string]int{}
	for _, s := range m.students {
		if s.Live() {
			counts[s.EnrollmentStatus]++
		}
	}
	return counts, nil
}

type memoryCacheRepo struct {
	mu          sync.Mutex
	values      map[string]interface{}
	invalidated []string
}

func (r *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*models.StudentStats)) = *(v.(*models.StudentStats))
	return nil
}

func (r *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = map[string]interface{}{}
	}
	r.values[key] = value
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.values {
		if strings.HasPrefix(key, prefix) {
			delete(r.values, key)
		}
	}
	return nil
}

func newStudentServiceForTest(store StudentStore, cache *CacheService) *StudentService {
	return NewStudentService(store, validation.NewStudentValidator(), cache, nil, zap.NewNop(), StudentServiceConfig{
		StatsCacheTTL: time.Minute,
		Clock:         func() time.Time { return serviceNow },
	})
}

func strPtr(v string) *string { return &v }

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func seededStudent(id, number, email string) models.Student {
	return models.Student{
		ID:               id,
		FullName:         "Student " + id,
		StudentNumber:    number,
		Email:            email,
		Gender:           strPtr(models.GenderMale),
		EnrollmentStatus: models.EnrollmentActive,
		Subjects:         []string{},
		CreatedBy:        "seed",
		UpdatedBy:        "seed",
		CreatedAt:        serviceNow.Add(-time.Hour),
		UpdatedAt:        serviceNow.Add(-time.Hour),
	}
}

func requireCode(t *testing.T, err error, want *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected *errors.Error, got %T", err)
	assert.Equal(t, want.Code, appErr.Code)
	return appErr
}

func TestStudentServiceCreateAppliesDefaultsAndNormalises(t *testing.T) {
	store := newMemoryStore()
	svc := newStudentServiceForTest(store, nil)

	resp, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name":      "  Jo Lee ",
		"student_number": "202400123",
		"email":          "JO@EX.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "Jo Lee", resp.FullName)
	assert.Equal(t, "jo@ex.com", resp.Email)
	assert.Equal(t, models.EnrollmentPending, resp.EnrollmentStatus)
	require.NotNil(t, resp.Gender)
	assert.Equal(t, models.GenderMale, *resp.Gender)
	assert.Equal(t, []string{}, resp.Subjects)
	assert.Equal(t, "user-1", resp.CreatedBy)
	assert.Equal(t, serviceNow, resp.CreatedAt)
	assert.NotEmpty(t, resp.ID)

	stored, ok := store.students[resp.ID]
	require.True(t, ok)
	assert.Nil(t, stored.DeletedAt)
}

func TestStudentServiceCreateRejectsReservedNumber(t *testing.T) {
	store := newMemoryStore()
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name":      "Jo Lee",
		"student_number": "123456789",
		"email":          "jo@ex.com",
	})
	appErr := requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, []string{validation.MsgStudentNumberReserved}, appErr.Details)
	assert.Empty(t, store.students)
}

func TestStudentServiceCreateDetectsDuplicates(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name": "Other", "student_number": "202400123", "email": "other@ex.com",
	})
	requireCode(t, err, appErrors.ErrDuplicateStudentNumber)

	_, err = svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name": "Other", "student_number": "202400999", "email": "JO@ex.com",
	})
	requireCode(t, err, appErrors.ErrDuplicateEmail)
}

func TestStudentServiceCreateAllowsNumberOfDeletedRecord(t *testing.T) {
	deleted := seededStudent("s-1", "202400123", "jo@ex.com")
	deleted.DeletedAt = datePtr(2024, time.January, 1)
	svc := newStudentServiceForTest(newMemoryStore(deleted), nil)

	_, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name": "Jo Lee", "student_number": "202400123", "email": "jo@ex.com",
	})
	require.NoError(t, err)
}

func TestStudentServiceCreateMapsStoreConstraintViolation(t *testing.T) {
	store := newMemoryStore()
	store.err = &models.DuplicateError{Field: "email", Err: errors.New("unique violation")}
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"full_name": "Jo Lee", "student_number": "202400123", "email": "jo@ex.com",
	})
	requireCode(t, err, appErrors.ErrDuplicateEmail)
}

func TestStudentServiceSoftDeletedRecordIsHidden(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com"))
	svc := newStudentServiceForTest(store, nil)
	ctx := context.Background()

	deleted, err := svc.Delete(ctx, "user-2", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", deleted.ID)
	assert.Equal(t, serviceNow, deleted.DeletedAt)
	require.NotNil(t, store.students["s-1"].DeletedBy)
	assert.Equal(t, "user-2", *store.students["s-1"].DeletedBy)

	_, err = svc.Get(ctx, "s-1")
	requireCode(t, err, appErrors.ErrNotFound)

	_, err = svc.GetByStudentNumber(ctx, "202400123")
	requireCode(t, err, appErrors.ErrNotFound)

	items, pagination, _, err := svc.List(ctx, dto.ListStudentsRequest{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, pagination.Total)

	found, err := svc.Search(ctx, "student", 0)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = svc.Delete(ctx, "user-2", "s-1")
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestStudentServiceRestore(t *testing.T) {
	record := seededStudent("s-1", "202400123", "jo@ex.com")
	record.EnrollmentStatus = models.EnrollmentWithdrawn
	record.DeletedAt = datePtr(2024, time.January, 1)
	record.DeletedBy = strPtr("user-2")
	store := newMemoryStore(record, seededStudent("s-2", "202400456", "ana@ex.com"))
	svc := newStudentServiceForTest(store, nil)
	ctx := context.Background()

	_, err := svc.Restore(ctx, "user-3", "s-2")
	requireCode(t, err, appErrors.ErrNotFound)

	resp, err := svc.Restore(ctx, "user-3", "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentActive, resp.EnrollmentStatus)
	assert.Nil(t, resp.DeletedAt)
	assert.Equal(t, "user-3", resp.UpdatedBy)
	assert.Nil(t, store.students["s-1"].DeletedBy)

	_, err = svc.Get(ctx, "s-1")
	require.NoError(t, err)
}

func TestStudentServiceRestoreRejectsTakenNumber(t *testing.T) {
	record := seededStudent("s-1", "202400123", "jo@ex.com")
	record.DeletedAt = datePtr(2024, time.January, 1)
	store := newMemoryStore(record, seededStudent("s-2", "202400123", "new@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Restore(context.Background(), "user-3", "s-1")
	requireCode(t, err, appErrors.ErrDuplicateStudentNumber)
	assert.NotNil(t, store.students["s-1"].DeletedAt)
}

func TestStudentServicePatchRejectsDisallowedKeys(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Patch(context.Background(), "user-1", "s-1", dto.StudentFields{"email": "x@y.com", "notes": "ok"})
	appErr := requireCode(t, err, appErrors.ErrInvalidFields)
	assert.Equal(t, []string{"email"}, appErr.Details)
	assert.Contains(t, appErr.Message, "email")
	assert.Equal(t, "jo@ex.com", store.students["s-1"].Email)

	_, err = svc.Patch(context.Background(), "user-1", "s-1", dto.StudentFields{})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestStudentServicePatchUpdatesAllowedFields(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	resp, err := svc.Patch(context.Background(), "user-9", "s-1", dto.StudentFields{
		"grade_level": "Junior",
		"subjects":    []interface{}{"Math", "Art"},
		"phone":       "",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.GradeLevel)
	assert.Equal(t, "Junior", *resp.GradeLevel)
	assert.Equal(t, []string{"Math", "Art"}, resp.Subjects)
	assert.Nil(t, resp.Phone)
	assert.Equal(t, "user-9", resp.UpdatedBy)
	assert.Equal(t, serviceNow, resp.UpdatedAt)

	_, err = svc.Patch(context.Background(), "user-9", "missing", dto.StudentFields{"notes": "x"})
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestStudentServiceUpdateStatus(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	resp, err := svc.UpdateStatus(context.Background(), "user-1", "s-1", models.EnrollmentGraduated)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentGraduated, resp.EnrollmentStatus)

	_, err = svc.UpdateStatus(context.Background(), "user-1", "s-1", "expelled")
	appErr := requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, []string{validation.MsgEnrollmentStatus}, appErr.Details)
}

func TestStudentServiceUpdateChecksUniquenessOnlyWhenChanged(t *testing.T) {
	store := newMemoryStore(
		seededStudent("s-1", "202400123", "jo@ex.com"),
		seededStudent("s-2", "202400456", "ana@ex.com"),
	)
	svc := newStudentServiceForTest(store, nil)
	ctx := context.Background()

	resp, err := svc.Update(ctx, "user-1", "s-1", dto.StudentFields{
		"full_name": "Jo Lee", "student_number": "202400123", "email": "JO@EX.COM",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jo Lee", resp.FullName)

	_, err = svc.Update(ctx, "user-1", "s-1", dto.StudentFields{"email": "ana@ex.com"})
	requireCode(t, err, appErrors.ErrDuplicateEmail)

	_, err = svc.Update(ctx, "user-1", "s-1", dto.StudentFields{"student_number": "202400456"})
	requireCode(t, err, appErrors.ErrDuplicateStudentNumber)

	_, err = svc.Update(ctx, "user-1", "s-1", dto.StudentFields{"birth_date": "2020-01-01"})
	appErr := requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, []string{validation.MsgBirthDateTooYoung}, appErr.Details)
}

func TestStudentServiceListPagination(t *testing.T) {
	var seed []models.Student
	for i := 0; i < 45; i++ {
		s := seededStudent(fmt.Sprintf("s-%02d", i), fmt.Sprintf("2024%05d", i+1), fmt.Sprintf("s%d@ex.com", i))
		s.CreatedAt = serviceNow.Add(-time.Duration(i) * time.Minute)
		seed = append(seed, s)
	}
	store := newMemoryStore(seed...)
	svc := newStudentServiceForTest(store, nil)

	items, pagination, _, err := svc.List(context.Background(), dto.ListStudentsRequest{Page: 3, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, &models.Pagination{Page: 3, Limit: 20, Total: 45, TotalPages: 3, HasNextPage: false, HasPrevPage: true}, pagination)

	last := store.queries[len(store.queries)-1]
	assert.Equal(t, 40, last.Offset)
	assert.Equal(t, 20, last.Limit)
	assert.Equal(t, models.SortSpec{Field: "created_at", Descending: true}, last.Sort)
}

func TestStudentServiceListNormalisesParameters(t *testing.T) {
	store := newMemoryStore()
	svc := newStudentServiceForTest(store, nil)

	_, pagination, filter, err := svc.List(context.Background(), dto.ListStudentsRequest{
		Filter: models.StudentFilter{Search: "  jo  "},
		SortBy: "password",
		Order:  "ASC",
		Page:   0,
		Limit:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 100, pagination.Limit)
	assert.Equal(t, "jo", filter.Search)
	assert.Equal(t, models.SortSpec{Field: "created_at"}, store.queries[0].Sort)
}

func TestStudentServiceListStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	svc := newStudentServiceForTest(store, nil)

	_, _, _, err := svc.List(context.Background(), dto.ListStudentsRequest{})
	appErr := requireCode(t, err, appErrors.ErrFetch)
	assert.Equal(t, "connection refused", appErr.Message)
}

func TestStudentServiceGetByStudentNumberFormat(t *testing.T) {
	svc := newStudentServiceForTest(newMemoryStore(seededStudent("s-1", "202400123", "jo@ex.com")), nil)

	_, err := svc.GetByStudentNumber(context.Background(), "12ab")
	requireCode(t, err, appErrors.ErrInvalidFormat)

	resp, err := svc.GetByStudentNumber(context.Background(), "202400123")
	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.ID)
}

func TestStudentServiceSearch(t *testing.T) {
	a := seededStudent("s-1", "202400123", "jo@ex.com")
	a.FullName = "Jo Lee"
	b := seededStudent("s-2", "202400456", "ana@ex.com")
	b.FullName = "Ana Joanne"
	store := newMemoryStore(a, b)
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Search(context.Background(), " j ", 0)
	requireCode(t, err, appErrors.ErrInvalidQuery)

	found, err := svc.Search(context.Background(), "JO", 200)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Ana Joanne", found[0].FullName)
	assert.Equal(t, 50, store.queries[len(store.queries)-1].Limit)

	_, err = svc.Search(context.Background(), "0045", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, store.queries[len(store.queries)-1].Limit)
}

func TestStudentServiceDerivesAgeAtBirthdayBoundary(t *testing.T) {
	s := seededStudent("s-1", "202400123", "jo@ex.com")
	s.BirthDate = datePtr(2010, time.June, 15)
	svc := newStudentServiceForTest(newMemoryStore(s), nil)

	resp, err := svc.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotNil(t, resp.Age)
	assert.Equal(t, 13, *resp.Age)
	assert.Equal(t, "2010-06-15", *resp.BirthDate)
}

func TestStudentServiceStats(t *testing.T) {
	a := seededStudent("s-1", "202400001", "a@ex.com")
	a.BirthDate = datePtr(2008, time.January, 10)
	a.GradeLevel = strPtr("Junior")
	b := seededStudent("s-2", "202400002", "b@ex.com")
	b.Gender = strPtr(models.GenderFemale)
	b.BirthDate = datePtr(2010, time.June, 15)
	c := seededStudent("s-3", "202400003", "c@ex.com")
	c.EnrollmentStatus = models.EnrollmentPending
	d := seededStudent("s-4", "202400004", "d@ex.com")
	d.DeletedAt = datePtr(2024, time.January, 1)

	cacheRepo := &memoryCacheRepo{}
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	store := newMemoryStore(a, b, c, d)
	svc := newStudentServiceForTest(store, cache)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, map[string]int{"Male": 1, "Female": 1}, stats.ByGender)
	assert.Equal(t, map[string]int{"Junior": 1, "Unassigned": 1}, stats.ByGradeLevel)
	assert.Equal(t, models.AgeDistribution{Average: 14.5, Min: 13, Max: 16, Sample: 2}, stats.Age)
	assert.Equal(t, map[string]int{"pending": 1, "active": 2, "suspended": 0, "graduated": 0, "withdrawn": 0}, stats.ByEnrollmentStatus)

	queries := len(store.queries)
	_, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queries, len(store.queries), "second call should be served from cache")

	_, err = svc.Patch(context.Background(), "user-1", "s-3", dto.StudentFields{"enrollment_status": "active"})
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.invalidated, statsCachePattern)

	stats, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActive)
}

func TestStudentServiceStatsFailure(t *testing.T) {
	store := newMemoryStore()
	store.statusErr = errors.New("aggregate failed")
	svc := newStudentServiceForTest(store, nil)

	_, err := svc.Stats(context.Background())
	appErr := requireCode(t, err, appErrors.ErrServer)
	assert.Equal(t, "aggregate failed", appErr.Message)
}

func TestStudentServiceCreateRejectsTakenID(t *testing.T) {
	deleted := seededStudent("5f0c6a4e-8d0b-4a57-9d55-1b2f3c4d5e6f", "202400001", "old@ex.com")
	deleted.DeletedAt = datePtr(2024, time.January, 1)
	svc := newStudentServiceForTest(newMemoryStore(deleted), nil)

	_, err := svc.Create(context.Background(), "user-1", dto.StudentFields{
		"id":        deleted.ID,
		"full_name": "Jo Lee", "student_number": "202400123", "email": "jo@ex.com",
	})
	requireCode(t, err, appErrors.ErrDuplicateID)
}

func TestStudentServiceListClampsHugePage(t *testing.T) {
	store := newMemoryStore(seededStudent("s-1", "202400001", "a@ex.com"))
	svc := newStudentServiceForTest(store, nil)

	items, pagination, _, err := svc.List(context.Background(), dto.ListStudentsRequest{Page: math.MaxInt, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, items)

	maxPage := math.MaxInt / 20
	assert.Equal(t, maxPage, pagination.Page)
	last := store.queries[len(store.queries)-1]
	assert.Equal(t, (maxPage-1)*20, last.Offset)
	assert.Positive(t, last.Offset)
}

// pausingStore blocks the first active-student query after it has read the
// records, until release is closed.
type pausingStore struct {
	*memoryStudentStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	students, total, err := p.memoryStudentStore.Query(ctx, q)
	if q.Limit == 0 && q.Filter.EnrollmentStatus == models.EnrollmentActive {
		p.once.Do(func() {
			close(p.read)
			<-p.release
		})
	}
	return students, total, err
}

func TestStudentServiceStatsNotCachedAcrossConcurrentMutation(t *testing.T) {
	a := seededStudent("s-1", "202400001", "a@ex.com")
	b := seededStudent("s-2", "202400002", "b@ex.com")
	b.EnrollmentStatus = models.EnrollmentPending

	store := &pausingStore{memoryStudentStore: newMemoryStore(a, b), read: make(chan struct{}), release: make(chan struct{})}
	cache := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := newStudentServiceForTest(store, cache)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Stats(context.Background())
		done <- err
	}()

	<-store.read
	_, err := svc.Patch(context.Background(), "user-1", "s-2", dto.StudentFields{"enrollment_status": "active"})
	require.NoError(t, err)
	close(store.release)
	require.NoError(t, <-done)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, 2, stats.ByEnrollmentStatus[models.EnrollmentActive])
}

// contextStore fails reads once the caller's context is done, like a real driver.
type contextStore struct {
	*memoryStudentStore
}

func (c contextStore) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return c.memoryStudentStore.Query(ctx, q)
}

func (c contextStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memoryStudentStore.CountByStatus(ctx)
}

func TestStudentServiceStatsSurvivesCancelledCaller(t *testing.T) {
	svc := newStudentServiceForTest(contextStore{newMemoryStore(seededStudent("s-1", "202400001", "a@ex.com"))}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalActive)
}
