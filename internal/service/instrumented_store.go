package service

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/student-records-api/internal/models"
)

// InstrumentedStore wraps a StudentStore and records call latency and failures.
// Not-found lookups are not counted as failures.
type InstrumentedStore struct {
	next    StudentStore
	metrics *MetricsService
}

// NewInstrumentedStore decorates next with store metrics.
func NewInstrumentedStore(next StudentStore, metrics *MetricsService) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, models.ErrRecordNotFound)
	s.metrics.ObserveStoreOperation(op, time.Since(start), failed)
}

func (s *InstrumentedStore) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	start := time.Now()
	students, total, err := s.next.Query(ctx, q)
	s.observe("query", start, err)
	return students, total, err
}

func (s *InstrumentedStore) FindByID(ctx context.Context, id string, scope models.RecordScope) (*models.Student, error) {
	start := time.Now()
	student, err := s.next.FindByID(ctx, id, scope)
	s.observe("find_by_id", start, err)
	return student, err
}

func (s *InstrumentedStore) FindByStudentNumber(ctx context.Context, number string) (*models.Student, error) {
	start := time.Now()
	student, err := s.next.FindByStudentNumber(ctx, number)
	s.observe("find_by_student_number", start, err)
	return student, err
}

func (s *InstrumentedStore) ExistsByStudentNumber(ctx context.Context, number, excludeID string) (bool, error) {
	start := time.Now()
	found, err := s.next.ExistsByStudentNumber(ctx, number, excludeID)
	s.observe("exists_by_student_number", start, err)
	return found, err
}

func (s *InstrumentedStore) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	start := time.Now()
	found, err := s.next.ExistsByEmail(ctx, email, excludeID)
	s.observe("exists_by_email", start, err)
	return found, err
}

func (s *InstrumentedStore) Insert(ctx context.Context, student *models.Student) error {
	start := time.Now()
	err := s.next.Insert(ctx, student)
	s.observe("insert", start, err)
	return err
}

func (s *InstrumentedStore) Update(ctx context.Context, student *models.Student) error {
	start := time.Now()
	err := s.next.Update(ctx, student)
	s.observe("update", start, err)
	return err
}

func (s *InstrumentedStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	counts, err := s.next.CountByStatus(ctx)
	s.observe("count_by_status", start, err)
	return counts, err
}
