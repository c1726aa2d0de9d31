package devicetokens

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/outbox/payloads"
)

const deviceTokensDDL = `CREATE TABLE device_tokens (
	id text PRIMARY KEY,
	user_id text NOT NULL,
	role text NOT NULL,
	token text NOT NULL UNIQUE,
	platform text NOT NULL,
	obtained_at datetime NOT NULL,
	created_at datetime,
	updated_at datetime
)`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(deviceTokensDDL).Error)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newTestService(t *testing.T, now time.Time) (Service, Repository) {
	t.Helper()
	repo := NewRepository(newTestDB(t))
	svc, err := NewService(ServiceParams{Repo: repo, Now: func() time.Time { return now }})
	require.NoError(t, err)
	return svc, repo
}

func TestRegisterUpsertsOnTokenConflict(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, repo := newTestService(t, now)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterInput{UserID: "u1", Role: enums.RoleChair, Token: "tok-a", Platform: "android"})
	require.NoError(t, err)
	assert.Equal(t, now, first.ObtainedAt)

	_, err = svc.Register(ctx, RegisterInput{UserID: "u2", Role: enums.RolePress, Token: "tok-a", Platform: "desktop", ObtainedAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	row, err := repo.FindByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "u2", row.UserID)
	assert.Equal(t, enums.RolePress, row.Role)
	assert.Equal(t, "desktop", row.Platform)

	all, err := svc.TokensForRoles(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{UserID: "", Token: "tok"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Register(ctx, RegisterInput{UserID: "u1", Token: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Register(ctx, RegisterInput{UserID: "u1", Token: "tok", Role: "delegate"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRegisterDefaultsRoleAndPlatform(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	row, err := svc.Register(context.Background(), RegisterInput{UserID: "u1", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, enums.DefaultRole, row.Role)
	assert.Equal(t, "unknown", row.Platform)
}

func TestTokensForRolesFilters(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()
	for i, role := range []enums.Role{enums.RoleAdmin, enums.RoleChair, enums.RoleChair, enums.RolePress} {
		_, err := svc.Register(ctx, RegisterInput{UserID: fmt.Sprintf("u%d", i), Role: role, Token: fmt.Sprintf("tok-%d", i)})
		require.NoError(t, err)
	}

	chairs, err := svc.TokensForRoles(ctx, []enums.Role{enums.RoleChair})
	require.NoError(t, err)
	assert.Len(t, chairs, 2)

	_, err = svc.TokensForRoles(ctx, []enums.Role{"delegate"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTokensForUser(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()
	for _, tok := range []string{"phone", "laptop"} {
		_, err := svc.Register(ctx, RegisterInput{UserID: "u1", Token: tok})
		require.NoError(t, err)
	}
	_, err := svc.Register(ctx, RegisterInput{UserID: "u2", Token: "other"})
	require.NoError(t, err)

	rows, err := svc.TokensForUser(ctx, " u1 ")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = svc.TokensForUser(ctx, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRemoveScopedToUser(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{UserID: "u1", Token: "tok"})
	require.NoError(t, err)

	err = svc.Remove(ctx, "someone-else", "tok")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.Remove(ctx, "u1", "tok"))
	rows, err := svc.TokensForRoles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPruneAndSweepStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{UserID: "u1", Token: "fresh", ObtainedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{UserID: "u2", Token: "old", ObtainedAt: now.Add(-90 * 24 * time.Hour)})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{UserID: "u3", Token: "rejected"})
	require.NoError(t, err)

	removed, err := svc.Prune(ctx, []string{"rejected", "never-existed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = svc.SweepStale(ctx, 60*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rows, err := svc.TokensForRoles(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].Token)

	_, err = svc.SweepStale(ctx, 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("tok"), Fingerprint("tok"))
	assert.NotEqual(t, Fingerprint("tok"), Fingerprint("tok2"))
	assert.Len(t, Fingerprint("tok"), 12)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type capturingOutbox struct {
	events []outbox.Event
}

func (c *capturingOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestRequestTestPushQueuesEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := NewRepository(newTestDB(t))
	box := &capturingOutbox{}
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     passthroughTx{},
		Outbox: box,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()

	err = svc.RequestTestPush(ctx, "u1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, box.events)

	_, err = svc.Register(ctx, RegisterInput{UserID: "u1", Token: "tok-a"})
	require.NoError(t, err)
	require.NoError(t, svc.RequestTestPush(ctx, "u1"))

	require.Len(t, box.events, 1)
	event := box.events[0]
	assert.Equal(t, enums.EventTestPushRequested, event.EventType)
	assert.Equal(t, enums.AggregateDeviceToken, event.AggregateType)
	data, ok := event.Data.(payloads.TestPushRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, "u1", data.UserID)
	assert.Equal(t, now, data.RequestedAt)
}

func TestRequestTestPushRequiresOutbox(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	err := svc.RequestTestPush(context.Background(), "u1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
