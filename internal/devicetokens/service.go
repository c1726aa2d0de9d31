package devicetokens

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/angelmondragon/confops/pkg/db/models"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

const maxTokenLength = 4096

// Service is the backend record of which devices can receive pushes for which role.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.DeviceToken, error)
	Remove(ctx context.Context, userID, token string) error
	TokensForRoles(ctx context.Context, roles []enums.Role) ([]models.DeviceToken, error)
	TokensForUser(ctx context.Context, userID string) ([]models.DeviceToken, error)
	Prune(ctx context.Context, tokens []string) (int64, error)
	SweepStale(ctx context.Context, maxAge time.Duration) (int64, error)
	RequestTestPush(ctx context.Context, userID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

// RegisterInput is one device token report from a signed-in page.
type RegisterInput struct {
	UserID     string
	Role       enums.Role
	Token      string
	Platform   string
	ObtainedAt time.Time
}

// ServiceParams wires the device token service. Tx and Outbox are only
// needed by RequestTestPush.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxEmitter
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService validates dependencies and returns the device token service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "device token repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   logg,
		now:    now,
	}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.DeviceToken, error) {
	userID := strings.TrimSpace(input.UserID)
	token := strings.TrimSpace(input.Token)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if token == "" || len(token) > maxTokenLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device token required")
	}
	role := input.Role
	if role == "" {
		role = enums.DefaultRole
	}
	if !role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid role").WithDetails(map[string]any{"role": role})
	}
	platform := strings.TrimSpace(input.Platform)
	if platform == "" {
		platform = "unknown"
	}
	now := s.now().UTC()
	obtained := input.ObtainedAt.UTC()
	if input.ObtainedAt.IsZero() || obtained.After(now) {
		obtained = now
	}

	row := &models.DeviceToken{
		UserID:     userID,
		Role:       role,
		Token:      token,
		Platform:   platform,
		ObtainedAt: obtained,
		UpdatedAt:  now,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert device token")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":     userID,
		"actor_role":  role.String(),
		"token_print": Fingerprint(token),
		"platform":    platform,
	})
	s.logg.Info(logCtx, "device token registered")
	return row, nil
}

func (s *service) Remove(ctx context.Context, userID, token string) error {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and device token required")
	}
	removed, err := s.repo.DeleteForUser(ctx, userID, token)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete device token")
	}
	if removed == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "device token not found")
	}
	return nil
}

func (s *service) TokensForRoles(ctx context.Context, roles []enums.Role) ([]models.DeviceToken, error) {
	for _, role := range roles {
		if !role.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid role").WithDetails(map[string]any{"role": role})
		}
	}
	rows, err := s.repo.ListByRoles(ctx, roles)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list device tokens")
	}
	return rows, nil
}

func (s *service) TokensForUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list device tokens")
	}
	return rows, nil
}

// Prune drops tokens the push transport reported as unregistered or invalid.
func (s *service) Prune(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	removed, err := s.repo.DeleteTokens(ctx, tokens)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prune device tokens")
	}
	return removed, nil
}

// SweepStale drops tokens not refreshed within maxAge.
func (s *service) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "max age must be positive")
	}
	removed, err := s.repo.DeleteObtainedBefore(ctx, s.now().UTC().Add(-maxAge))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sweep stale device tokens")
	}
	return removed, nil
}

// RequestTestPush queues a diagnostic push to every device of the user.
func (s *service) RequestTestPush(ctx context.Context, userID string) error {
	if s.tx == nil || s.outbox == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "test push is not wired")
	}
	rows, err := s.TokensForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no registered devices for user")
	}
	now := s.now().UTC()
	event := outbox.Event{
		EventType:     enums.EventTestPushRequested,
		AggregateType: enums.AggregateDeviceToken,
		AggregateID:   uuid.New(),
		Actor:         &outbox.Actor{UserID: strings.TrimSpace(userID)},
		Version:       1,
		OccurredAt:    now,
		Data: payloads.TestPushRequestedEvent{
			UserID:      strings.TrimSpace(userID),
			RequestedAt: now,
		},
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue test push")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": strings.TrimSpace(userID),
		"devices": len(rows),
	}), "test push queued")
	return nil
}

// Fingerprint is a short stable digest of a token, safe to log.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
