package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-records-api/internal/dto"
	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
	"github.com/noah-isme/student-records-api/pkg/response"
)

type studentService interface {
	List(ctx context.Context, req dto.ListStudentsRequest) ([]dto.StudentResponse, *models.Pagination, models.StudentFilter, error)
	Get(ctx context.Context, id string) (*dto.StudentResponse, error)
	GetByStudentNumber(ctx context.Context, number string) (*dto.StudentResponse, error)
	Create(ctx context.Context, actor string, fields dto.StudentFields) (*dto.StudentResponse, error)
	Update(ctx context.Context, actor, id string, fields dto.StudentFields) (*dto.StudentResponse, error)
	Patch(ctx context.Context, actor, id string, fields dto.StudentFields) (*dto.StudentResponse, error)
	UpdateStatus(ctx context.Context, actor, id, status string) (*dto.StudentResponse, error)
	Delete(ctx context.Context, actor, id string) (*dto.DeleteStudentResponse, error)
	Restore(ctx context.Context, actor, id string) (*dto.StudentResponse, error)
	Search(ctx context.Context, query string, limit int) ([]dto.StudentResponse, error)
	Stats(ctx context.Context) (*models.StudentStats, error)
}

type studentExporter interface {
	Export(ctx context.Context, format string, req dto.ListStudentsRequest) (*dto.ExportFile, error)
}

// StudentHandler exposes student record endpoints.
type StudentHandler struct {
	students studentService
	exporter studentExporter
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, exporter studentExporter) *StudentHandler {
	return &StudentHandler{students: students, exporter: exporter}
}

func listRequest(c *gin.Context) dto.ListStudentsRequest {
	req := dto.ListStudentsRequest{
		Filter: models.StudentFilter{
			EnrollmentStatus: c.Query("enrollment_status"),
			GradeLevel:       c.Query("grade_level"),
			Gender:           c.Query("gender"),
			Search:           strings.TrimSpace(c.Query("search")),
		},
		SortBy: c.Query("sort_by"),
		Order:  c.Query("order"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		req.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		req.Limit = limit
	}
	return req
}

// bindFields decodes the request body as a JSON object.
func bindFields(c *gin.Context) (dto.StudentFields, bool) {
	var fields dto.StudentFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "Invalid request body", []string{"Request body must be a JSON object"}))
		return nil, false
	}
	if fields == nil {
		fields = dto.StudentFields{}
	}
	return fields, true
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param enrollment_status query string false "Filter by enrollment status"
// @Param grade_level query string false "Filter by grade level"
// @Param gender query string false "Filter by gender"
// @Param search query string false "Search name, student number or email"
// @Param sort_by query string false "Sort field" default(created_at)
// @Param order query string false "asc or desc" default(desc)
// @Param page query int false "Page" default(1)
// @Param limit query int false "Page size (max 100)" default(20)
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	students, pagination, filters, err := h.students.List(c.Request.Context(), listRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, students, pagination, filters)
}

// Export godoc
// @Summary Export student roster
// @Tags Students
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /students/export [get]
func (h *StudentHandler) Export(c *gin.Context) {
	file, err := h.exporter.Export(c.Request.Context(), c.Query("format"), listRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}

// Stats godoc
// @Summary Student statistics
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /students/stats/summary [get]
func (h *StudentHandler) Stats(c *gin.Context) {
	stats, err := h.students.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Search godoc
// @Summary Search students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param q query string true "Search text (min 2 characters)"
// @Param limit query int false "Maximum results (max 50)" default(10)
// @Success 200 {object} response.Envelope
// @Router /students/search/all [get]
func (h *StudentHandler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	students, err := h.students.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Counted(c, students, len(students))
}

// GetByNumber godoc
// @Summary Get student by student number
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param number path string true "Nine-digit student number"
// @Success 200 {object} response.Envelope
// @Router /students/number/{number} [get]
func (h *StudentHandler) GetByNumber(c *gin.Context) {
	student, err := h.students.GetByStudentNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body object true "Student fields"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	fields, ok := bindFields(c)
	if !ok {
		return
	}
	student, err := h.students.Create(c.Request.Context(), callerID(c), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body object true "Student fields"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	fields, ok := bindFields(c)
	if !ok {
		return
	}
	student, err := h.students.Update(c.Request.Context(), callerID(c), c.Param("id"), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Patch godoc
// @Summary Partially update student
// @Description Only enrollment_status, grade_level, subjects, phone, home_address, parent_name, parent_phone and notes may be changed.
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body object true "Subset of patchable fields"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [patch]
func (h *StudentHandler) Patch(c *gin.Context) {
	fields, ok := bindFields(c)
	if !ok {
		return
	}
	student, err := h.students.Patch(c.Request.Context(), callerID(c), c.Param("id"), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// UpdateStatus godoc
// @Summary Change enrollment status
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body dto.StatusUpdateRequest true "New status"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/status [patch]
func (h *StudentHandler) UpdateStatus(c *gin.Context) {
	var req dto.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "Invalid request body", []string{"enrollment_status is required"}))
		return
	}
	student, err := h.students.UpdateStatus(c.Request.Context(), callerID(c), c.Param("id"), req.EnrollmentStatus)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Soft delete student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	result, err := h.students.Delete(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Restore godoc
// @Summary Restore a soft-deleted student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/restore [post]
func (h *StudentHandler) Restore(c *gin.Context) {
	student, err := h.students.Restore(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
