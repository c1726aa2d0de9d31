// Package deeplink computes the click-through target of a push payload.
package deeplink

import (
	"net/url"
	"strings"

	"github.com/angelmondragon/confops/pkg/enums"
)

const (
	TimerPath     = "/timer"
	FileSharePath = "/file-share"
	DocumentsPath = "/documents"
)

// Input carries the payload fields that drive routing.
type Input struct {
	Type        string
	Role        string
	AlertID     string
	ExplicitURL string
	// LastKnownRole is used when Role is empty.
	LastKnownRole string
}

// Resolve returns an origin-relative or absolute URL. It is deterministic in its input.
func Resolve(in Input) string {
	if target, ok := explicitTarget(in.ExplicitURL); ok {
		return target
	}

	role := resolveRole(in.Role, in.LastKnownRole)
	home := "/" + role.String()

	switch enums.PayloadType(strings.ToLower(strings.TrimSpace(in.Type))) {
	case enums.PayloadTypeTimer:
		return TimerPath
	case enums.PayloadTypeAttendance:
		return home + "/attendance"
	case enums.PayloadTypeFile:
		return FileSharePath
	case enums.PayloadTypeDocument:
		return DocumentsPath
	case enums.PayloadTypeReply:
		alertID := strings.TrimSpace(in.AlertID)
		if alertID == "" {
			return home
		}
		return home + "?alert=" + url.QueryEscape(alertID)
	default:
		return home
	}
}

func resolveRole(role, lastKnown string) enums.Role {
	if parsed, err := enums.ParseRole(role); err == nil {
		return parsed
	}
	if parsed, err := enums.ParseRole(lastKnown); err == nil {
		return parsed
	}
	return enums.DefaultRole
}

// explicitTarget accepts absolute http(s) URLs and origin-relative paths only.
func explicitTarget(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return raw, true
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	return raw, true
}

// Absolute joins a resolved target onto origin unless it is already absolute.
func Absolute(origin, target string) string {
	if parsed, err := url.Parse(target); err == nil && parsed.IsAbs() {
		return target
	}
	return strings.TrimRight(origin, "/") + target
}
