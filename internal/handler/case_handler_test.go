package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/middleware"
	"github.com/noah-isme/sma-tatib-api/internal/models"
)

func TestCaseHandlerTransitionRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCaseHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/cases/case-1/status", bytes.NewReader([]byte(`{"status":"IN_PROGRESS"}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "case-1"}}

	handler.Transition(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCaseHandlerTransitionMissingStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCaseHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/cases/case-1/status", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "case-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Transition(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
