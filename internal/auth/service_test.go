package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/redis"
	"github.com/angelmondragon/confops/pkg/security"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "confops",
	ExpirationMinutes: 30,
	RefreshTokenHours: 12,
}

type fixture struct {
	svc      Service
	signer   *pkgAuth.Signer
	sessions *session.Manager
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, plain map[enums.Role]string) fixture {
	t.Helper()
	hashes := map[enums.Role]string{}
	for role, code := range plain {
		hashes[role] = mustHashPasscode(t, code)
	}
	srv := miniredis.RunT(t)
	sessions, err := session.NewManager(redis.Wrap(goredis.NewClient(&goredis.Options{Addr: srv.Addr()})), testJWT)
	require.NoError(t, err)
	signer, err := pkgAuth.NewSigner(testJWT)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{Passcodes: hashes, Sessions: sessions, Tokens: signer})
	require.NoError(t, err)
	return fixture{svc: svc, signer: signer, sessions: sessions, redis: srv}
}

func TestSignInChairCarriesCouncil(t *testing.T) {
	f := newFixture(t, map[enums.Role]string{enums.RoleChair: "chair-code"})

	resp, err := f.svc.SignIn(context.Background(), SignInRequest{
		Role:     "Chair",
		Name:     " Ana Ruiz ",
		Council:  "UNSC",
		Passcode: "chair-code",
	})
	require.NoError(t, err)

	claims, err := f.signer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, enums.RoleChair, claims.Role)
	assert.Equal(t, "UNSC", claims.Council)
	assert.Equal(t, "Ana Ruiz", claims.Name)
	assert.Equal(t, UserIDFor(enums.RoleChair, "ana ruiz"), claims.UserID)
	assert.Equal(t, SessionUser{ID: claims.UserID, Name: "Ana Ruiz", Role: enums.RoleChair, Council: "UNSC"}, resp.User)

	live, err := f.sessions.HasSession(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.True(t, live, "refresh session is keyed by the jti")

	_, err = f.sessions.Rotate(context.Background(), claims.ID, resp.RefreshToken)
	assert.NoError(t, err)
}

func TestSignInNonChairDropsCouncil(t *testing.T) {
	f := newFixture(t, map[enums.Role]string{enums.RolePress: "p"})
	resp, err := f.svc.SignIn(context.Background(), SignInRequest{Role: "press", Name: "Lee", Council: "UNSC", Passcode: "p"})
	require.NoError(t, err)
	assert.Empty(t, resp.User.Council)
}

func TestSignInRejectsWrongPasscode(t *testing.T) {
	f := newFixture(t, map[enums.Role]string{enums.RolePress: "press-code"})

	_, err := f.svc.SignIn(context.Background(), SignInRequest{Role: "press", Name: "Lee", Passcode: "nope"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), err)
	_, err = f.svc.SignIn(context.Background(), SignInRequest{Role: "admin", Name: "Lee", Passcode: "press-code"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "roles without a passcode cannot sign in")
	assert.Empty(t, f.redis.Keys(), "no session is stored")
}

func TestSignInValidation(t *testing.T) {
	f := newFixture(t, map[enums.Role]string{enums.RoleChair: "c"})

	_, err := f.svc.SignIn(context.Background(), SignInRequest{Role: "chair", Name: "Ana", Passcode: "c"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "chairs need a council")
	_, err = f.svc.SignIn(context.Background(), SignInRequest{Role: "speaker", Name: "Ana", Passcode: "c"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "unknown roles are invalid")
}

type failingSessions struct{}

func (failingSessions) Open(context.Context, pkgAuth.Identity) (session.Grant, error) {
	return session.Grant{}, errors.New("redis down")
}

func TestSignInSessionStoreFailure(t *testing.T) {
	signer, err := pkgAuth.NewSigner(testJWT)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Passcodes: map[enums.Role]string{enums.RoleAdmin: mustHashPasscode(t, "a")},
		Sessions:  failingSessions{},
		Tokens:    signer,
		Now:       func() time.Time { return time.Now() },
	})
	require.NoError(t, err)

	_, err = svc.SignIn(context.Background(), SignInRequest{Role: "admin", Name: "Ops", Passcode: "a"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), err)
}

func TestPasscodesFromConfigSkipsBlank(t *testing.T) {
	got := PasscodesFromConfig(config.AuthConfig{AdminPasscodeHash: "h1", PressPasscodeHash: "  "})
	assert.Equal(t, map[enums.Role]string{enums.RoleAdmin: "h1"}, got)

	_, err := NewService(ServiceParams{Sessions: failingSessions{}})
	assert.Error(t, err)
}

func mustHashPasscode(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPasscode(password, security.ParamsFrom(config.PasswordConfig{}))
	require.NoError(t, err)
	return hash
}
