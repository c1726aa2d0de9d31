package controllers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/api/middleware"
	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
)

type stubTokenService struct {
	registered  devicetokens.RegisterInput
	removedUser string
	removed     string
	testUser    string
	err         error
}

func (s *stubTokenService) Register(_ context.Context, input devicetokens.RegisterInput) (*models.DeviceToken, error) {
	s.registered = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.DeviceToken{UserID: input.UserID, Role: input.Role, Token: input.Token, Platform: "web", ObtainedAt: time.Now()}, nil
}

func (s *stubTokenService) Remove(_ context.Context, userID, token string) error {
	s.removedUser = userID
	s.removed = token
	return s.err
}

func (s *stubTokenService) TokensForRoles(context.Context, []enums.Role) ([]models.DeviceToken, error) {
	return nil, nil
}

func (s *stubTokenService) TokensForUser(context.Context, string) ([]models.DeviceToken, error) {
	return nil, nil
}

func (s *stubTokenService) Prune(context.Context, []string) (int64, error) { return 0, nil }

func (s *stubTokenService) SweepStale(context.Context, time.Duration) (int64, error) { return 0, nil }

func (s *stubTokenService) RequestTestPush(_ context.Context, userID string) error {
	s.testUser = userID
	return s.err
}

func signedInRequest(method, target, body, userID string, role enums.Role) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	id := auth.Identity{UserID: userID, Role: role}
	if role == enums.RoleChair {
		id.Council = "Budget"
	}
	return req.WithContext(middleware.WithIdentity(req.Context(), id))
}

func TestRegisterDeviceTokenUsesSessionRole(t *testing.T) {
	svc := &stubTokenService{}
	req := signedInRequest(http.MethodPost, "/api/v1/device-tokens", `{"token":"fcm-abc","platform":"web"}`, "u1", enums.RolePress)
	rec := httptest.NewRecorder()

	RegisterDeviceToken(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", svc.registered.UserID)
	assert.Equal(t, enums.RolePress, svc.registered.Role)
	assert.Equal(t, "fcm-abc", svc.registered.Token)
}

func TestRegisterDeviceTokenRejectsForeignRole(t *testing.T) {
	svc := &stubTokenService{}
	req := signedInRequest(http.MethodPost, "/api/v1/device-tokens", `{"token":"fcm-abc","role":"admin"}`, "u1", enums.RolePress)
	rec := httptest.NewRecorder()

	RegisterDeviceToken(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.registered.Token)
}

func TestRegisterDeviceTokenRequiresSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/device-tokens", bytes.NewBufferString(`{"token":"x"}`))
	rec := httptest.NewRecorder()
	RegisterDeviceToken(&stubTokenService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRemoveDeviceToken(t *testing.T) {
	svc := &stubTokenService{}
	req := signedInRequest(http.MethodDelete, "/api/v1/device-tokens", `{"token":"fcm-abc"}`, "u1", enums.RoleChair)
	rec := httptest.NewRecorder()

	RemoveDeviceToken(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", svc.removedUser)
	assert.Equal(t, "fcm-abc", svc.removed)

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "device token not found")
	rec = httptest.NewRecorder()
	RemoveDeviceToken(svc, nil).ServeHTTP(rec, signedInRequest(http.MethodDelete, "/api/v1/device-tokens", `{"token":"gone"}`, "u1", enums.RoleChair))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestTestPushQueues(t *testing.T) {
	svc := &stubTokenService{}
	rec := httptest.NewRecorder()
	RequestTestPush(svc, nil).ServeHTTP(rec, signedInRequest(http.MethodPost, "/api/v1/device-tokens/test", "", "u9", enums.RoleAdmin))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "u9", svc.testUser)
}
