package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tatib-api/internal/service"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
	"github.com/noah-isme/sma-tatib-api/pkg/response"
)

// CoachingRuleHandler exposes the coaching rule endpoints.
type CoachingRuleHandler struct {
	coaching *service.CoachingService
}

// NewCoachingRuleHandler constructs handler.
func NewCoachingRuleHandler(coaching *service.CoachingService) *CoachingRuleHandler {
	return &CoachingRuleHandler{coaching: coaching}
}

// List godoc
// @Summary List coaching rules
// @Tags Coaching
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /coaching-rules [get]
func (h *CoachingRuleHandler) List(c *gin.Context) {
	rules, err := h.coaching.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// Create godoc
// @Summary Create a coaching rule
// @Tags Coaching
// @Accept json
// @Produce json
// @Param payload body service.CoachingRuleRequest true "Coaching rule"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /coaching-rules [post]
func (h *CoachingRuleHandler) Create(c *gin.Context) {
	var req service.CoachingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.coaching.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Update godoc
// @Summary Update a coaching rule
// @Tags Coaching
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body service.CoachingRuleRequest true "Coaching rule"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /coaching-rules/{id} [put]
func (h *CoachingRuleHandler) Update(c *gin.Context) {
	var req service.CoachingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.coaching.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Delete godoc
// @Summary Delete a coaching rule
// @Tags Coaching
// @Produce json
// @Param id path string true "Rule ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /coaching-rules/{id} [delete]
func (h *CoachingRuleHandler) Delete(c *gin.Context) {
	if err := h.coaching.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Preview godoc
// @Summary Preview the recommendation for a point total
// @Tags Coaching
// @Produce json
// @Param points query int true "Point total"
// @Success 200 {object} response.Envelope
// @Router /coaching-rules/preview [get]
func (h *CoachingRuleHandler) Preview(c *gin.Context) {
	points, err := strconv.Atoi(c.Query("points"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "points must be an integer"))
		return
	}
	recommendation, err := h.coaching.Recommend(c.Request.Context(), points)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, recommendation, nil)
}
