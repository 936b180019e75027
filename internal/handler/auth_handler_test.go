package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manit-portal/grievance-api/internal/dto"
	"github.com/manit-portal/grievance-api/internal/models"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

type authServiceMock struct {
	user        *models.User
	loginResp   *dto.LoginResponse
	err         error
	verifyToken string
}

func (m *authServiceMock) Register(_ context.Context, _ dto.RegisterRequest) (*models.User, error) {
	return m.user, m.err
}

func (m *authServiceMock) Login(_ context.Context, _ dto.LoginRequest) (*dto.LoginResponse, error) {
	return m.loginResp, m.err
}

func (m *authServiceMock) VerifyEmail(_ context.Context, token string) error {
	m.verifyToken = token
	return m.err
}

func (m *authServiceMock) ResendVerification(_ context.Context, _ dto.ResendVerificationRequest) error {
	return m.err
}

func (m *authServiceMock) ForgotPassword(_ context.Context, _ dto.ForgotPasswordRequest) error {
	return m.err
}

func (m *authServiceMock) ResetPassword(_ context.Context, _ dto.ResetPasswordRequest) error {
	return m.err
}

func TestAuthRegisterReturnsCreated(t *testing.T) {
	mock := &authServiceMock{user: &models.User{ID: "u1", Email: "ravi@stu.manit.ac.in"}}
	h := NewAuthHandler(mock)

	c, w := testContext(t, http.MethodPost, "/auth/register", dto.RegisterRequest{
		Username: "ravi", Name: "Ravi", Email: "ravi@stu.manit.ac.in",
		Password: "supersecret", Role: models.RoleStudent, Department: "CSE",
	}, nil)

	h.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "verify your email")
}

func TestAuthRegisterDependencyFailure(t *testing.T) {
	mock := &authServiceMock{err: appErrors.Clone(appErrors.ErrDependency, "failed to send verification email")}
	h := NewAuthHandler(mock)

	c, w := testContext(t, http.MethodPost, "/auth/register", dto.RegisterRequest{}, nil)
	h.Register(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthLoginReturnsToken(t *testing.T) {
	mock := &authServiceMock{loginResp: &dto.LoginResponse{
		Token: "jwt-token",
		User:  &models.User{ID: "u1", Role: models.RoleStudent},
	}}
	h := NewAuthHandler(mock)

	c, w := testContext(t, http.MethodPost, "/auth/login", dto.LoginRequest{
		Email: "ravi@stu.manit.ac.in", Password: "supersecret",
	}, nil)

	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jwt-token")
}

func TestAuthLoginInvalidCredentialsStatus(t *testing.T) {
	mock := &authServiceMock{err: appErrors.ErrInvalidCredentials}
	h := NewAuthHandler(mock)

	c, w := testContext(t, http.MethodPost, "/auth/login", dto.LoginRequest{
		Email: "ravi@stu.manit.ac.in", Password: "wrong",
	}, nil)

	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthLoginRejectsInvalidBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthVerifyEmailPassesToken(t *testing.T) {
	mock := &authServiceMock{}
	h := NewAuthHandler(mock)

	c, w := testContext(t, http.MethodGet, "/auth/verify-email/tok123", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "tok123"}}

	h.VerifyEmail(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok123", mock.verifyToken)
}
