// Package auth signs dashboard operators in with a per-role passcode and
// issues the JWT + refresh session pair the API and the push mirror use.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/security"
	"github.com/google/uuid"
)

const invalidCredentialsMessage = "invalid credentials"

// userNamespace scopes derived user ids so the same display name under two
// roles yields two users.
var userNamespace = uuid.MustParse("5d1f6f0e-3c4b-4a57-9a43-5a2f1c0de001")

// Service defines the behavior needed by the auth controller.
type Service interface {
	SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error)
}

type sessionOpener interface {
	Open(ctx context.Context, id pkgAuth.Identity) (session.Grant, error)
}

type tokenMinter interface {
	Mint(now time.Time, id pkgAuth.Identity, jti string) (string, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
// Passcodes maps a role to the argon2id hash of its passcode.
type ServiceParams struct {
	Passcodes map[enums.Role]string
	Sessions  sessionOpener
	Tokens    tokenMinter
	Now       func() time.Time
}

type service struct {
	passcodes map[enums.Role]string
	sessions  sessionOpener
	tokens    tokenMinter
	now       func() time.Time
}

// NewService constructs a sign-in service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if len(params.Passcodes) == 0 {
		return nil, fmt.Errorf("at least one role passcode is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		passcodes: params.Passcodes,
		sessions:  params.Sessions,
		tokens:    params.Tokens,
		now:       now,
	}, nil
}

// PasscodesFromConfig collects the configured role passcode hashes, skipping
// roles without one.
func PasscodesFromConfig(cfg config.AuthConfig) map[enums.Role]string {
	out := map[enums.Role]string{}
	for role, hash := range map[enums.Role]string{
		enums.RoleAdmin: cfg.AdminPasscodeHash,
		enums.RoleChair: cfg.ChairPasscodeHash,
		enums.RolePress: cfg.PressPasscodeHash,
	} {
		if hash = strings.TrimSpace(hash); hash != "" {
			out[role] = hash
		}
	}
	return out
}

// UserIDFor derives the stable user id for a role and display name, so a
// re-signed-in operator keeps their registered devices.
func UserIDFor(role enums.Role, name string) string {
	key := role.String() + ":" + strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(userNamespace, []byte(key)).String()
}

func (s *service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	role, err := enums.ParseRole(req.Role)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	council := strings.TrimSpace(req.Council)
	if role == enums.RoleChair && council == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "council is required for chairs")
	}
	if role != enums.RoleChair {
		council = ""
	}

	hash, ok := s.passcodes[role]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	valid, err := security.VerifyPasscode(req.Passcode, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify passcode")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	grant, err := s.sessions.Open(ctx, pkgAuth.Identity{
		UserID:  UserIDFor(role, name),
		Name:    name,
		Role:    role,
		Council: council,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open session")
	}
	accessToken, err := s.tokens.Mint(s.now().UTC(), grant.Identity, grant.AccessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}

	id := grant.Identity
	return &SignInResponse{
		AccessToken:  accessToken,
		RefreshToken: grant.RefreshToken,
		User:         SessionUser{ID: id.UserID, Name: id.Name, Role: id.Role, Council: id.Council},
	}, nil
}
