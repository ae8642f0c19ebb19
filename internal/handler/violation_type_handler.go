package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

// ViolationTypeHandler exposes the violation catalog endpoints.
type ViolationTypeHandler struct {
	types *service.ViolationTypeService
}

// NewViolationTypeHandler constructs handler.
func NewViolationTypeHandler(types *service.ViolationTypeService) *ViolationTypeHandler {
	return &ViolationTypeHandler{types: types}
}

// List godoc
// @Summary List violation types
// @Tags ViolationTypes
// @Produce json
// @Param search query string false "Search by code or name"
// @Param category query string false "Filter by category"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /violation-types [get]
func (h *ViolationTypeHandler) List(c *gin.Context) {
	page, size := paginationFromQuery(c)
	filter := models.ViolationTypeFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Page:     page,
		PageSize: size,
	}
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	types, total, err := h.types.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get a violation type with its frequency rules
// @Tags ViolationTypes
// @Produce json
// @Param id path string true "Violation type ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violation-types/{id} [get]
func (h *ViolationTypeHandler) Get(c *gin.Context) {
	vt, err := h.types.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vt, nil)
}

// Create godoc
// @Summary Create a violation type
// @Tags ViolationTypes
// @Accept json
// @Produce json
// @Param payload body service.ViolationTypeRequest true "Violation type"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /violation-types [post]
func (h *ViolationTypeHandler) Create(c *gin.Context) {
	var req service.ViolationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	vt, err := h.types.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, vt)
}

// Update godoc
// @Summary Update a violation type
// @Tags ViolationTypes
// @Accept json
// @Produce json
// @Param id path string true "Violation type ID"
// @Param payload body service.ViolationTypeRequest true "Violation type"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violation-types/{id} [put]
func (h *ViolationTypeHandler) Update(c *gin.Context) {
	var req service.ViolationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	vt, err := h.types.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vt, nil)
}

// ReplaceRules godoc
// @Summary Replace the frequency rules of a violation type
// @Description Swaps the full rule set after ambiguity validation
// @Tags ViolationTypes
// @Accept json
// @Produce json
// @Param id path string true "Violation type ID"
// @Param payload body []service.FrequencyRuleRequest true "Rule set"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violation-types/{id}/rules [put]
func (h *ViolationTypeHandler) ReplaceRules(c *gin.Context) {
	var reqs []service.FrequencyRuleRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	vt, err := h.types.ReplaceRules(c.Request.Context(), c.Param("id"), reqs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vt, nil)
}

// SetActive godoc
// @Summary Archive or restore a violation type
// @Tags ViolationTypes
// @Accept json
// @Produce json
// @Param id path string true "Violation type ID"
// @Param payload body map[string]bool true "Active flag"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violation-types/{id}/active [patch]
func (h *ViolationTypeHandler) SetActive(c *gin.Context) {
	var payload struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "active flag required"))
		return
	}
	if err := h.types.SetActive(c.Request.Context(), c.Param("id"), *payload.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
