package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/internal/alertfeed"
	"github.com/angelmondragon/confops/internal/alerts"
	"github.com/angelmondragon/confops/pkg/enums"
)

type stubAlertService struct {
	created alertfeed.CreateInput
	replied alertfeed.ReplyInput
	status  alertfeed.StatusInput
	since   time.Time
	limit   int
	records []alerts.Record
	err     error
}

func (s *stubAlertService) Create(_ context.Context, input alertfeed.CreateInput) (*alerts.Record, error) {
	s.created = input
	if s.err != nil {
		return nil, s.err
	}
	return &alerts.Record{ID: uuid.NewString(), Council: input.Council, Message: input.Message, Status: enums.AlertStatusPending}, nil
}

func (s *stubAlertService) Reply(_ context.Context, input alertfeed.ReplyInput) (*alerts.Record, error) {
	s.replied = input
	if s.err != nil {
		return nil, s.err
	}
	return &alerts.Record{ID: input.AlertID.String(), Reply: input.Reply, Status: enums.AlertStatusAcknowledged}, nil
}

func (s *stubAlertService) UpdateStatus(_ context.Context, input alertfeed.StatusInput) (*alerts.Record, error) {
	s.status = input
	if s.err != nil {
		return nil, s.err
	}
	return &alerts.Record{ID: input.AlertID.String(), Status: input.Status}, nil
}

func (s *stubAlertService) ListRecent(_ context.Context, since time.Time, limit int) ([]alerts.Record, error) {
	s.since = since
	s.limit = limit
	return s.records, s.err
}

func (s *stubAlertService) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }

func withAlertID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("alertId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateAlertChairUsesOwnCouncil(t *testing.T) {
	svc := &stubAlertService{}
	req := signedInRequest(http.MethodPost, "/api/v1/alerts", `{"council":"Other","message":"Need security","priority":"urgent","targetRole":"admin"}`, "chair-1", enums.RoleChair)
	rec := httptest.NewRecorder()

	CreateAlert(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Budget", svc.created.Council)
	assert.Equal(t, enums.AlertPriorityUrgent, svc.created.Priority)
	require.NotNil(t, svc.created.TargetRole)
	assert.Equal(t, enums.RoleAdmin, *svc.created.TargetRole)
	require.NotNil(t, svc.created.Actor)
	assert.Equal(t, "chair-1", svc.created.Actor.UserID)
	assert.Equal(t, "chair", svc.created.Actor.Role)
}

func TestCreateAlertAdminNamesCouncil(t *testing.T) {
	svc := &stubAlertService{}
	req := signedInRequest(http.MethodPost, "/api/v1/alerts", `{"council":"Security","message":"Evacuate hall"}`, "admin-1", enums.RoleAdmin)
	rec := httptest.NewRecorder()

	CreateAlert(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Security", svc.created.Council)
	assert.Nil(t, svc.created.TargetRole)
}

func TestCreateAlertRejectsBadPriority(t *testing.T) {
	svc := &stubAlertService{}
	req := signedInRequest(http.MethodPost, "/api/v1/alerts", `{"message":"x","priority":"panic"}`, "admin-1", enums.RoleAdmin)
	rec := httptest.NewRecorder()
	CreateAlert(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlertsParsesQuery(t *testing.T) {
	svc := &stubAlertService{records: []alerts.Record{{ID: "a1"}}}
	req := signedInRequest(http.MethodGet, "/api/v1/alerts?since=2026-03-01T10:00:00Z&limit=5", "", "u1", enums.RolePress)
	rec := httptest.NewRecorder()

	ListAlerts(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.limit)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), svc.since.UTC())

	var envelope struct {
		Data alertListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Len(t, envelope.Data.Alerts, 1)
	assert.Equal(t, "a1", envelope.Data.Alerts[0].ID)
}

func TestListAlertsRejectsBadSince(t *testing.T) {
	req := signedInRequest(http.MethodGet, "/api/v1/alerts?since=yesterday", "", "u1", enums.RolePress)
	rec := httptest.NewRecorder()
	ListAlerts(&stubAlertService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplyAlert(t *testing.T) {
	svc := &stubAlertService{}
	id := uuid.New()
	req := withAlertID(signedInRequest(http.MethodPost, "/api/v1/alerts/"+id.String()+"/reply", `{"reply":"On our way"}`, "admin-1", enums.RoleAdmin), id.String())
	rec := httptest.NewRecorder()

	ReplyAlert(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, svc.replied.AlertID)
	assert.Equal(t, "On our way", svc.replied.Reply)
	assert.Empty(t, svc.replied.Status)
}

func TestUpdateAlertStatusRejectsBadID(t *testing.T) {
	req := withAlertID(signedInRequest(http.MethodPost, "/api/v1/alerts/nope/status", `{"status":"resolved"}`, "admin-1", enums.RoleAdmin), "nope")
	rec := httptest.NewRecorder()
	UpdateAlertStatus(&stubAlertService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAlertStatus(t *testing.T) {
	svc := &stubAlertService{}
	id := uuid.New()
	req := withAlertID(signedInRequest(http.MethodPost, "/api/v1/alerts/"+id.String()+"/status", `{"status":"resolved"}`, "press-1", enums.RolePress), id.String())
	rec := httptest.NewRecorder()

	UpdateAlertStatus(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.AlertStatusResolved, svc.status.Status)
	assert.Equal(t, "press-1", svc.status.Actor.UserID)
}
