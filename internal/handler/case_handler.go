package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

// CaseHandler exposes the follow-up case endpoints.
type CaseHandler struct {
	cases *service.CaseService
}

// NewCaseHandler constructs handler.
func NewCaseHandler(cases *service.CaseService) *CaseHandler {
	return &CaseHandler{cases: cases}
}

// List godoc
// @Summary List follow-up cases
// @Tags Cases
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param status query string false "Comma separated status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	page, size := paginationFromQuery(c)
	filter := models.CaseFilter{
		StudentID: c.Query("studentId"),
		Page:      page,
		PageSize:  size,
	}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Status = append(filter.Status, models.CaseStatus(status))
			}
		}
	}
	cases, total, err := h.cases.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get a case with its summon letter
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	followUp, err := h.cases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, followUp, nil)
}

// Transition godoc
// @Summary Move a case along the workflow
// @Description Allowed edges: NEW to IN_PROGRESS, PENDING_APPROVAL to APPROVED, APPROVED to IN_PROGRESS, IN_PROGRESS to COMPLETED
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body map[string]string true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/status [patch]
func (h *CaseHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status required"))
		return
	}

	followUp, err := h.cases.Transition(c.Request.Context(), c.Param("id"), models.CaseStatus(payload.Status), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, followUp, nil)
}

// Letter godoc
// @Summary Download the summon letter as PDF
// @Tags Cases
// @Produce application/pdf
// @Param id path string true "Case ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /cases/{id}/letter [get]
func (h *CaseHandler) Letter(c *gin.Context) {
	payload, filename, err := h.cases.LetterPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", payload)
}
