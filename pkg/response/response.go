package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

// Envelope represents the common success response contract.
type Envelope struct {
	Success    bool                   `json:"success"`
	Data       interface{}            `json:"data,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Filters    interface{}            `json:"filters,omitempty"`
	Count      *int                   `json:"count,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// ErrorEnvelope is returned for every failed request.
type ErrorEnvelope struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Success: true, Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// List responds with a page of records together with the applied filters.
func List(c *gin.Context, data interface{}, pagination *models.Pagination, filters interface{}) {
	noStore(c)
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Pagination: pagination, Filters: filters})
}

// Counted responds with data and an explicit result count.
func Counted(c *gin.Context, data interface{}, count int) {
	noStore(c)
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Count: &count})
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	noStore(c)
	c.JSON(appErr.Status, ErrorEnvelope{
		Success: false,
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// Attachment streams a rendered file download.
func Attachment(c *gin.Context, filename, contentType string, payload []byte) {
	noStore(c)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Data(http.StatusOK, contentType, payload)
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
