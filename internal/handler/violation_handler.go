package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

// ViolationHandler exposes the violation record endpoints.
type ViolationHandler struct {
	violations *service.ViolationService
}

// NewViolationHandler constructs handler.
func NewViolationHandler(violations *service.ViolationService) *ViolationHandler {
	return &ViolationHandler{violations: violations}
}

// Record godoc
// @Summary Record violations for a student
// @Description Persists a batch of violations and runs the escalation engine
// @Tags Violations
// @Accept json
// @Produce json
// @Param payload body service.RecordViolationsRequest true "Violation batch"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violations [post]
func (h *ViolationHandler) Record(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RecordViolationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.violations.Record(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// List godoc
// @Summary List violation records
// @Tags Violations
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param violationTypeId query string false "Filter by violation type"
// @Param recorderId query string false "Filter by recorder"
// @Param dateFrom query string false "Occurred from (RFC3339)"
// @Param dateTo query string false "Occurred until (RFC3339)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /violations [get]
func (h *ViolationHandler) List(c *gin.Context) {
	filter := violationFilterFromQuery(c)
	records, total, err := h.violations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, paginationMeta(filter.Page, filter.PageSize, total))
}

// Update godoc
// @Summary Edit a violation record
// @Description Edits a record's mutable fields and reconciles the student's case
// @Tags Violations
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.UpdateViolationRecordRequest true "Record changes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violations/{id} [patch]
func (h *ViolationHandler) Update(c *gin.Context) {
	var req service.UpdateViolationRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.violations.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Delete a violation record
// @Description Soft-deletes a record and reconciles the student's case
// @Tags Violations
// @Produce json
// @Param id path string true "Record ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violations/{id} [delete]
func (h *ViolationHandler) Delete(c *gin.Context) {
	if err := h.violations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Discipline summary for a student
// @Description Point total, coaching recommendation and active case
// @Tags Violations
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/discipline-summary [get]
func (h *ViolationHandler) Summary(c *gin.Context) {
	summary, err := h.violations.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ExportRecap godoc
// @Summary Export violation recap
// @Description Renders the filtered record listing as CSV or PDF
// @Tags Violations
// @Produce text/csv
// @Produce application/pdf
// @Param studentId query string false "Filter by student"
// @Param dateFrom query string false "Occurred from (RFC3339)"
// @Param dateTo query string false "Occurred until (RFC3339)"
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /violations/export [get]
func (h *ViolationHandler) ExportRecap(c *gin.Context) {
	filter := violationFilterFromQuery(c)
	payload, filename, contentType, err := h.violations.ExportRecap(c.Request.Context(), filter, c.DefaultQuery("format", service.RecapFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, payload)
}

func violationFilterFromQuery(c *gin.Context) models.ViolationRecordFilter {
	page, size := paginationFromQuery(c)
	filter := models.ViolationRecordFilter{
		StudentID:       c.Query("studentId"),
		ViolationTypeID: c.Query("violationTypeId"),
		RecorderID:      c.Query("recorderId"),
		Page:            page,
		PageSize:        size,
	}
	if raw := c.Query("dateFrom"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.DateFrom = &ts
		}
	}
	if raw := c.Query("dateTo"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.DateTo = &ts
		}
	}
	return filter
}
