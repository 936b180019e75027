package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manit-portal/grievance-api/internal/dto"
	"github.com/manit-portal/grievance-api/internal/middleware"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	"github.com/manit-portal/grievance-api/internal/service"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

type grievanceServiceMock struct {
	grievance *models.Grievance
	list      []*models.Grievance
	stats     *models.GrievanceStatistics
	err       error
	lastActor policy.Actor
}

func (m *grievanceServiceMock) Submit(_ context.Context, actor policy.Actor, _ dto.CreateGrievanceRequest) (*models.Grievance, error) {
	m.lastActor = actor
	return m.grievance, m.err
}

func (m *grievanceServiceMock) GetByID(_ context.Context, actor policy.Actor, _ string) (*models.Grievance, error) {
	m.lastActor = actor
	return m.grievance, m.err
}

func (m *grievanceServiceMock) List(_ context.Context, actor policy.Actor) ([]*models.Grievance, error) {
	m.lastActor = actor
	return m.list, m.err
}

func (m *grievanceServiceMock) UpdateStatus(_ context.Context, actor policy.Actor, _ string, _ dto.UpdateStatusRequest) (*models.Grievance, error) {
	m.lastActor = actor
	return m.grievance, m.err
}

func (m *grievanceServiceMock) Escalate(_ context.Context, actor policy.Actor, _ string, _ dto.EscalateRequest) (*models.Grievance, error) {
	m.lastActor = actor
	return m.grievance, m.err
}

func (m *grievanceServiceMock) AddComment(_ context.Context, actor policy.Actor, _ string, _ dto.AddCommentRequest) (*models.Grievance, error) {
	m.lastActor = actor
	return m.grievance, m.err
}

func (m *grievanceServiceMock) Statistics(_ context.Context, actor policy.Actor) (*models.GrievanceStatistics, error) {
	m.lastActor = actor
	return m.stats, m.err
}

func (m *grievanceServiceMock) Export(_ context.Context, actor policy.Actor, _ service.ExportFormat) ([]byte, string, error) {
	m.lastActor = actor
	return []byte("id,title\n"), "text/csv", m.err
}

func testContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "stu1", Role: models.RoleStudent, Department: "CSE"}
}

func TestGrievanceSubmitReturnsCreated(t *testing.T) {
	mock := &grievanceServiceMock{grievance: &models.Grievance{ID: "g1", Title: "Wifi down"}}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodPost, "/grievances", dto.CreateGrievanceRequest{
		Title: "Wifi down", Description: "d", Department: "CSE", Category: "infra",
	}, studentClaims())

	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu1", mock.lastActor.ID)
	assert.Contains(t, w.Body.String(), "Wifi down")
}

func TestGrievanceSubmitRejectsMissingToken(t *testing.T) {
	h := NewGrievanceHandler(&grievanceServiceMock{})

	c, w := testContext(t, http.MethodPost, "/grievances", dto.CreateGrievanceRequest{}, nil)
	h.Submit(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGrievanceSubmitRejectsInvalidBody(t *testing.T) {
	h := NewGrievanceHandler(&grievanceServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/grievances", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Submit(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrievanceGetPropagatesServiceError(t *testing.T) {
	mock := &grievanceServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "nope")}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodGet, "/grievances/g1", nil, studentClaims())
	c.Params = gin.Params{{Key: "id", Value: "g1"}}

	h.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGrievanceListIncludesCountMeta(t *testing.T) {
	mock := &grievanceServiceMock{list: []*models.Grievance{{ID: "g1"}, {ID: "g2"}}}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodGet, "/grievances", nil, studentClaims())
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.EqualValues(t, 2, envelope.Meta["count"])
}

func TestGrievanceUpdateStatusPassesActorDepartment(t *testing.T) {
	mock := &grievanceServiceMock{grievance: &models.Grievance{ID: "g1"}}
	h := NewGrievanceHandler(mock)

	claims := &models.JWTClaims{UserID: "adm1", Role: models.RoleDepartmentAdmin, Department: "CSE"}
	c, w := testContext(t, http.MethodPatch, "/grievances/g1/status", dto.UpdateStatusRequest{
		Status: models.StatusInProgress, Comment: "on it",
	}, claims)
	c.Params = gin.Params{{Key: "id", Value: "g1"}}

	h.UpdateStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CSE", mock.lastActor.Department)
	assert.Equal(t, models.RoleDepartmentAdmin, mock.lastActor.Role)
}

func TestGrievanceEscalateConflictStatus(t *testing.T) {
	mock := &grievanceServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "grievance is already resolved")}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodPost, "/grievances/g1/escalate", dto.EscalateRequest{Reason: "stuck"}, studentClaims())
	c.Params = gin.Params{{Key: "id", Value: "g1"}}

	h.Escalate(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGrievanceStatistics(t *testing.T) {
	mock := &grievanceServiceMock{stats: &models.GrievanceStatistics{Total: 7, Overdue: 2}}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodGet, "/grievances/statistics", nil, studentClaims())
	h.Statistics(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":7`)
	assert.Contains(t, w.Body.String(), `"overdue":2`)
}

func TestGrievanceExportSetsAttachmentHeaders(t *testing.T) {
	mock := &grievanceServiceMock{}
	h := NewGrievanceHandler(mock)

	c, w := testContext(t, http.MethodGet, "/grievances/export?format=csv", nil, studentClaims())
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "grievances.csv")
}
