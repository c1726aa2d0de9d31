package auth

import "github.com/angelmondragon/confops/pkg/enums"

// SignInRequest is the dashboard sign-in body. Chairs must name their council.
type SignInRequest struct {
	Role     string `json:"role" validate:"required,role"`
	Name     string `json:"name" validate:"required,max=120"`
	Council  string `json:"council" validate:"max=120"`
	Passcode string `json:"passcode" validate:"required,max=256"`
}

// SessionUser is the identity a sign-in resolves to.
type SessionUser struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Role    enums.Role `json:"role"`
	Council string     `json:"council,omitempty"`
}

// SignInResponse carries the token pair handed to the dashboard.
type SignInResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         SessionUser `json:"user"`
}
