package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/api/validators"
	"github.com/angelmondragon/confops/internal/alertfeed"
	"github.com/angelmondragon/confops/internal/alerts"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultAlertPageSize = 50
	maxAlertPageSize     = 200
	maxAlertText         = 2000
	maxCouncilName       = 120
)

type createAlertRequest struct {
	Type       string `json:"type" validate:"omitempty,max=64"`
	Council    string `json:"council" validate:"omitempty,max=120"`
	Message    string `json:"message" validate:"required,max=2000"`
	Priority   string `json:"priority" validate:"omitempty,oneof=normal urgent"`
	TargetRole string `json:"targetRole" validate:"omitempty,role"`
}

type replyAlertRequest struct {
	Reply  string `json:"reply" validate:"required,max=2000"`
	Status string `json:"status" validate:"omitempty,oneof=acknowledged resolved"`
}

type alertStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending acknowledged resolved"`
}

type alertListResponse struct {
	Alerts []alerts.Record `json:"alerts"`
}

// CreateAlert raises an alert. Chairs always raise for their own council.
func CreateAlert(svc alertfeed.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "alert service unavailable"))
			return
		}

		var req createAlertRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, caller, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		council := validators.CleanText(req.Council, maxCouncilName)
		if caller.Role == enums.RoleChair {
			council = caller.Council
		}

		input := alertfeed.CreateInput{
			Type:     req.Type,
			Council:  council,
			Message:  validators.CleanText(req.Message, maxAlertText),
			Priority: enums.AlertPriority(req.Priority),
			Actor:    actor,
		}
		if req.TargetRole != "" {
			target := enums.Role(req.TargetRole)
			input.TargetRole = &target
		}

		record, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}

// ListAlerts returns recent alerts, newest first, optionally after ?since=.
func ListAlerts(svc alertfeed.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "alert service unavailable"))
			return
		}

		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultAlertPageSize, 1, maxAlertPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.ListRecent(r.Context(), since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if records == nil {
			records = []alerts.Record{}
		}
		responses.WriteSuccess(w, alertListResponse{Alerts: records})
	}
}

// ReplyAlert answers an alert and, by default, acknowledges it.
func ReplyAlert(svc alertfeed.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "alert service unavailable"))
			return
		}

		alertID, err := alertIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req replyAlertRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Reply(r.Context(), alertfeed.ReplyInput{
			AlertID: alertID,
			Reply:   validators.CleanText(req.Reply, maxAlertText),
			Status:  enums.AlertStatus(req.Status),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// UpdateAlertStatus moves an alert forward without a reply.
func UpdateAlertStatus(svc alertfeed.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "alert service unavailable"))
			return
		}

		alertID, err := alertIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req alertStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, _, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.UpdateStatus(r.Context(), alertfeed.StatusInput{
			AlertID: alertID,
			Status:  enums.AlertStatus(req.Status),
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

func alertIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "alertId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New(errors.CodeValidation, "invalid alert id").WithDetails(map[string]any{"alertId": raw})
	}
	return id, nil
}

func actorFromRequest(r *http.Request) (*outbox.Actor, pkgAuth.Identity, error) {
	caller, err := sessionIdentity(r)
	if err != nil {
		return nil, pkgAuth.Identity{}, err
	}
	return &outbox.Actor{UserID: caller.UserID, Role: caller.Role.String()}, caller, nil
}
