package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/middleware"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type reportServiceMock struct {
	file            *service.ReportFile
	fileErr         error
	satisfaction    *dto.CourseSatisfactionResponse
	satisfactionErr error
	lastFormat      service.ReportFormat
}

func (m *reportServiceMock) CourseGrades(_ context.Context, _ string, format service.ReportFormat, _ *models.JWTClaims) (*service.ReportFile, error) {
	m.lastFormat = format
	return m.file, m.fileErr
}

func (m *reportServiceMock) CourseAttendance(_ context.Context, _ string, format service.ReportFormat, _ *models.JWTClaims) (*service.ReportFile, error) {
	m.lastFormat = format
	return m.file, m.fileErr
}

func (m *reportServiceMock) CourseSatisfaction(context.Context, string, *models.JWTClaims) (*dto.CourseSatisfactionResponse, error) {
	return m.satisfaction, m.satisfactionErr
}

func reportTestContext(path string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, path, nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	return c, w
}

func TestReportHandlerCourseGradesCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{file: &service.ReportFile{
		FileName:    "grades_CS101_20260302_100000.csv",
		ContentType: "text/csv",
		Payload:     []byte("Student ID,Score\ns1,92.50\n"),
	}}
	h := NewReportHandler(mockSvc)

	c, w := reportTestContext("/api/reports/courses/c1/grades")
	h.CourseGrades(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ReportFormatCSV, mockSvc.lastFormat)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "grades_CS101_20260302_100000.csv")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "s1,92.50")
}

func TestReportHandlerCourseAttendancePDF(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{file: &service.ReportFile{
		FileName:    "attendance_CS101_20260302_100000.pdf",
		ContentType: "application/pdf",
		Payload:     []byte("%PDF-1.4"),
	}}
	h := NewReportHandler(mockSvc)

	c, w := reportTestContext("/api/reports/courses/c1/attendance?format=pdf")
	h.CourseAttendance(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ReportFormatPDF, mockSvc.lastFormat)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestReportHandlerRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{})

	c, w := reportTestContext("/api/reports/courses/c1/grades?format=xlsx")
	h.CourseGrades(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrValidation.Code, envelope.Error.Code)
}

func TestReportHandlerSatisfaction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{satisfaction: &dto.CourseSatisfactionResponse{
		CourseID: "c1",
		Score:    84,
		Rating:   "good",
	}}
	h := NewReportHandler(mockSvc)

	c, w := reportTestContext("/api/reports/courses/c1/satisfaction")
	h.Satisfaction(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var result dto.CourseSatisfactionResponse
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "good", result.Rating)
	assert.InDelta(t, 84.0, result.Score, 0.001)
}

func TestReportHandlerSatisfactionForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{satisfactionErr: appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may view satisfaction")}
	h := NewReportHandler(mockSvc)

	c, w := reportTestContext("/api/reports/courses/c1/satisfaction")
	h.Satisfaction(c)

	require.Equal(t, http.StatusForbidden, w.Code)
}
