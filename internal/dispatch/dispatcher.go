// Package dispatch fans alert events out to registered devices over FCM.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/confops/internal/alerts"
	"github.com/angelmondragon/confops/internal/deeplink"
	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/fcm"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/catalog"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
	"golang.org/x/time/rate"
)

const (
	testPushType  = "test"
	testPushTitle = "Test notification"
	testPushBody  = "Push delivery is working on this device."
)

type tokenSource interface {
	TokensForRoles(ctx context.Context, roles []enums.Role) ([]models.DeviceToken, error)
	TokensForUser(ctx context.Context, userID string) ([]models.DeviceToken, error)
	Prune(ctx context.Context, tokens []string) (int64, error)
}

// DispatcherParams wires the push dispatcher. Auditor and Metrics are optional.
type DispatcherParams struct {
	Tokens  tokenSource
	Sender  fcm.Sender
	Limiter *rate.Limiter
	Metrics *metrics.NotificationMetrics
	Auditor Auditor
	Logger  *logger.Logger
	Now     func() time.Time
}

// Dispatcher turns one outbox event into one push fan-out.
type Dispatcher struct {
	tokens  tokenSource
	sender  fcm.Sender
	limiter *rate.Limiter
	metrics *metrics.NotificationMetrics
	auditor Auditor
	logg    *logger.Logger
	now     func() time.Time
}

// plan is the resolved fan-out for one event.
type plan struct {
	alertID string
	roles   []enums.Role
	userID  string
	message fcm.Message
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Tokens == nil {
		return nil, fmt.Errorf("token source required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("push sender required")
	}
	limiter := params.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		tokens:  params.Tokens,
		sender:  params.Sender,
		limiter: limiter,
		metrics: params.Metrics,
		auditor: params.Auditor,
		logg:    logg,
		now:     now,
	}, nil
}

// Handles reports whether the event type produces a push.
func Handles(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventAlertCreated, enums.EventAlertReplied, enums.EventTestPushRequested:
		return true
	default:
		return false
	}
}

// Handle sends the push for one event. Validation-coded errors are permanent;
// anything else is worth a redelivery.
func (d *Dispatcher) Handle(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.Envelope) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})
	if !Handles(eventType) {
		d.logg.Debug(logCtx, "event does not push")
		return nil
	}

	p, err := buildPlan(eventType, envelope)
	if err != nil {
		return err
	}
	if p.alertID != "" {
		logCtx = d.logg.WithAlertID(logCtx, p.alertID)
	}

	rows, err := d.targets(ctx, p)
	if err != nil {
		return err
	}
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	if len(tokens) == 0 {
		d.metrics.IncDelivery(metrics.ChannelPush, metrics.OutcomeSkipped)
		d.logg.Info(logCtx, "no registered devices for push")
		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	result, err := d.sender.Send(ctx, tokens, p.message)
	if err != nil {
		d.metrics.AddDeliveries(metrics.ChannelPush, metrics.OutcomeFailed, len(tokens))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send push")
	}
	d.metrics.AddDeliveries(metrics.ChannelPush, metrics.OutcomeDelivered, result.SuccessCount)
	d.metrics.AddDeliveries(metrics.ChannelPush, metrics.OutcomeFailed, result.FailureCount)

	pruned := d.prune(logCtx, result.InvalidTokens)

	if d.auditor != nil {
		row := DeliveryRow{
			EventID:   envelope.EventID,
			EventType: string(eventType),
			AlertID:   nullString(p.alertID),
			Targets:   len(tokens),
			Delivered: result.SuccessCount,
			Failed:    result.FailureCount,
			Pruned:    pruned,
			SentAt:    d.now().UTC(),
		}
		if err := d.auditor.Record(ctx, row); err != nil {
			d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "delivery audit write failed")
		}
	}

	d.logg.Info(d.logg.WithFields(logCtx, map[string]any{
		"targets":   len(tokens),
		"delivered": result.SuccessCount,
		"failed":    result.FailureCount,
		"pruned":    pruned,
	}), "push dispatched")
	return nil
}

func (d *Dispatcher) targets(ctx context.Context, p plan) ([]models.DeviceToken, error) {
	if p.userID != "" {
		return d.tokens.TokensForUser(ctx, p.userID)
	}
	return d.tokens.TokensForRoles(ctx, p.roles)
}

// prune removes dead tokens; a failure only costs another rejected send later.
func (d *Dispatcher) prune(ctx context.Context, invalid []string) int {
	if len(invalid) == 0 {
		return 0
	}
	removed, err := d.tokens.Prune(ctx, invalid)
	if err != nil {
		d.logg.Error(ctx, "failed to prune rejected tokens", err)
		return 0
	}
	for _, token := range invalid {
		d.logg.Debug(d.logg.WithField(ctx, "token", devicetokens.Fingerprint(token)), "token pruned")
	}
	d.metrics.AddTokensPruned(int(removed))
	return int(removed)
}

// buildPlan resolves the fan-out for a decoded payload. Event types that
// decode but never push are validation errors here; Handles filters them first.
func buildPlan(eventType enums.OutboxEventType, envelope outbox.Envelope) (plan, error) {
	payload, err := catalog.Decode(eventType, envelope)
	if err != nil {
		return plan{}, err
	}
	switch evt := payload.(type) {
	case payloads.AlertCreatedEvent:
		return alertCreatedPlan(evt), nil
	case payloads.AlertRepliedEvent:
		return alertRepliedPlan(evt), nil
	case payloads.TestPushRequestedEvent:
		if evt.UserID == "" {
			return plan{}, pkgerrors.New(pkgerrors.CodeValidation, "test push without user id")
		}
		return testPushPlan(evt), nil
	default:
		return plan{}, pkgerrors.New(pkgerrors.CodeValidation, "event type does not push").
			WithDetails(map[string]any{"event_type": eventType})
	}
}

func testPushPlan(evt payloads.TestPushRequestedEvent) plan {
	return plan{
		userID: evt.UserID,
		message: fcm.Message{
			Title: testPushTitle,
			Body:  testPushBody,
			Tag:   testPushType,
			Data: map[string]string{
				"type":  testPushType,
				"title": testPushTitle,
				"body":  testPushBody,
			},
		},
	}
}

func alertCreatedPlan(evt payloads.AlertCreatedEvent) plan {
	record := alerts.Record{
		ID:       evt.AlertID.String(),
		Council:  evt.Council,
		Message:  evt.Message,
		Priority: evt.Priority,
	}
	data := map[string]string{
		"type":     string(enums.PayloadTypeAlert),
		"alertId":  record.ID,
		"council":  evt.Council,
		"priority": string(evt.Priority),
		"title":    record.Title(),
		"body":     evt.Message,
	}
	msg := fcm.Message{
		Title:  record.Title(),
		Body:   evt.Message,
		Tag:    "alert-" + record.ID,
		Urgent: record.Urgent(),
		Data:   data,
	}
	if len(evt.Roles) == 1 {
		role := evt.Roles[0].String()
		data["role"] = role
		msg.Link = deeplink.Resolve(deeplink.Input{Type: data["type"], Role: role, AlertID: record.ID})
	}
	return plan{alertID: record.ID, roles: evt.Roles, message: msg}
}

func alertRepliedPlan(evt payloads.AlertRepliedEvent) plan {
	alertID := evt.AlertID.String()
	title := "Reply to your alert"
	if evt.Council != "" {
		title = "Reply for " + evt.Council
	}
	data := map[string]string{
		"type":    string(enums.PayloadTypeReply),
		"alertId": alertID,
		"council": evt.Council,
		"status":  string(evt.Status),
		"title":   title,
		"body":    evt.Reply,
	}
	msg := fcm.Message{
		Title: title,
		Body:  evt.Reply,
		Tag:   "alert-" + alertID,
		Data:  data,
	}
	if len(evt.Roles) == 1 {
		role := evt.Roles[0].String()
		data["role"] = role
		msg.Link = deeplink.Resolve(deeplink.Input{Type: data["type"], Role: role, AlertID: alertID})
	}
	return plan{alertID: alertID, roles: evt.Roles, message: msg}
}
