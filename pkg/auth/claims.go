package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/confops/pkg/enums"
)

// Identity is the dashboard operator a token or session speaks for.
type Identity struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name,omitempty"`
	Role   enums.Role `json:"role"`
	// Council scopes a chair to the committee they run; empty for admin and press.
	Council string `json:"council,omitempty"`
}

func (id Identity) normalized() Identity {
	id.UserID = strings.TrimSpace(id.UserID)
	id.Name = strings.TrimSpace(id.Name)
	id.Council = strings.TrimSpace(id.Council)
	return id
}

func (id Identity) check() error {
	if id.UserID == "" {
		return errors.New("user id is required")
	}
	if !id.Role.IsValid() {
		return fmt.Errorf("invalid role %q", id.Role)
	}
	if id.Role == enums.RoleChair && id.Council == "" {
		return errors.New("chair tokens must carry a council")
	}
	return nil
}

// Claims is the JWT body issued to dashboard sessions. The jti (ID) names
// the refresh session backing the token.
type Claims struct {
	Identity
	jwt.RegisteredClaims
}

// Validate is called by the jwt parser after the registered claims pass.
func (c Claims) Validate() error {
	return c.Identity.check()
}
