package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/dto"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type dashboardServiceStub struct {
	summary  *dto.DashboardResponse
	cacheHit bool
	err      error
}

func (s *dashboardServiceStub) Summary(context.Context) (*dto.DashboardResponse, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return s.summary, s.cacheHit, nil
}

func TestDashboardHandlerSummaryMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &dashboardServiceStub{
		summary:  &dto.DashboardResponse{Students: 42, Teachers: 4, GeneratedAt: time.Now().UTC()},
		cacheHit: true,
	}
	h := NewDashboardHandler(stub)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/dashboard", nil)

	h.Summary(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Meta)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Contains(t, envelope.Meta, "processing_time_ms")

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var summary dto.DashboardResponse
	require.NoError(t, json.Unmarshal(payload, &summary))
	assert.Equal(t, 42, summary.Students)
}

func TestDashboardHandlerSummaryError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDashboardHandler(&dashboardServiceStub{err: appErrors.ErrInternal})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/dashboard", nil)

	h.Summary(c)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
}
