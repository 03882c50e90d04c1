package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/dto"
	"github.com/noah-isme/student-records-api/internal/models"
	"github.com/noah-isme/student-records-api/internal/validation"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
	"github.com/noah-isme/student-records-api/pkg/export"
)

const defaultExportMaxRows = 5000

type datasetRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	MaxRows int
	Clock   func() time.Time
}

// ExportService renders rosters of live students in downloadable formats.
type ExportService struct {
	store     StudentStore
	renderers map[string]datasetRenderer
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService with CSV and PDF renderers.
func NewExportService(store StudentStore, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultExportMaxRows
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &ExportService{
		store: store,
		renderers: map[string]datasetRenderer{
			dto.ExportFormatCSV: export.NewCSVExporter(),
			dto.ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		cfg:    cfg,
	}
}

var rosterHeaders = []string{"Student Number", "Full Name", "Email", "Gender", "Grade Level", "Status", "Birth Date", "Age", "Phone", "Subjects"}

// Export renders the live students matching req in the requested format.
// Pagination fields on req are ignored; output is capped at MaxRows.
func (s *ExportService) Export(ctx context.Context, format string, req dto.ListStudentsRequest) (*dto.ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = dto.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidFormat, "Export format must be csv or pdf")
	}

	students, _, err := s.store.Query(ctx, models.StudentQuery{
		Filter: req.Filter,
		Sort:   normaliseSort(req.SortBy, req.Order),
		Limit:  s.cfg.MaxRows,
	})
	if err != nil {
		s.logger.Error("student export query failed", zap.Error(err))
		return nil, appErrors.Store(err, appErrors.ErrFetch)
	}

	now := s.cfg.Clock().UTC()
	dataset := export.Dataset{
		Title:   fmt.Sprintf("Student Roster (%s)", now.Format("2006-01-02")),
		Headers: rosterHeaders,
		Rows:    make([][]string, 0, len(students)),
	}
	for i := range students {
		dataset.Rows = append(dataset.Rows, rosterRow(&students[i], now))
	}

	payload, err := renderer.Render(dataset)
	if err != nil {
		s.logger.Error("student export render failed", zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrServer.Code, appErrors.ErrServer.Status, "failed to render export")
	}

	return &dto.ExportFile{
		Filename:    fmt.Sprintf("students_%s.%s", now.Format("20060102_150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Payload:     payload,
	}, nil
}

func rosterRow(s *models.Student, now time.Time) []string {
	birth, age := "", ""
	if s.BirthDate != nil {
		birth = validation.FormatDate(*s.BirthDate)
		age = fmt.Sprintf("%d", models.AgeOn(*s.BirthDate, now))
	}
	return []string{
		s.StudentNumber,
		s.FullName,
		s.Email,
		deref(s.Gender),
		deref(s.GradeLevel),
		s.EnrollmentStatus,
		birth,
		age,
		deref(s.Phone),
		strings.Join(s.Subjects, "; "),
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
