// Package capability turns browser environment signals into the small set of
// notification capabilities every other component switches on.
package capability

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/angelmondragon/confops/pkg/enums"
)

// Capability names a single flag of Set so consumers can ask for it generically.
type Capability string

const (
	Notifications  Capability = "notifications"
	BackgroundPush Capability = "background_push"
	Vibration      Capability = "vibration"
)

// Signals is the raw environment reported by a page.
type Signals struct {
	UserAgent        string `json:"userAgent"`
	Standalone       bool   `json:"standalone"`
	NotificationAPI  bool   `json:"notificationApi"`
	ServiceWorkerAPI bool   `json:"serviceWorkerApi"`
	PushManagerAPI   bool   `json:"pushManagerApi"`
	VibrateAPI       bool   `json:"vibrateApi"`
	MaxTouchPoints   int    `json:"maxTouchPoints"`
}

// Set is derived per call and never persisted.
type Set struct {
	NotificationsSupported  bool                 `json:"notificationsSupported"`
	BackgroundPushSupported bool                 `json:"backgroundPushSupported"`
	VibrationSupported      bool                 `json:"vibrationSupported"`
	RequiresInstall         bool                 `json:"requiresInstall"`
	Degraded                bool                 `json:"degraded"`
	Installed               bool                 `json:"installed"`
	Platform                enums.DevicePlatform `json:"platform"`
}

// NeedsDeferral reports whether notifications must go through the deferred store.
func (s Set) NeedsDeferral() bool {
	return s.Degraded || (s.RequiresInstall && !s.Installed)
}

// Has reports whether the capability is present.
func (s Set) Has(c Capability) bool {
	switch c {
	case Notifications:
		return s.NotificationsSupported
	case BackgroundPush:
		return s.BackgroundPushSupported
	case Vibration:
		return s.VibrationSupported
	default:
		return false
	}
}

// Missing is the inverse of Has; unknown capabilities are always missing.
func (s Set) Missing(c Capability) bool {
	return !s.Has(c)
}

// iOS gained web push for home-screen apps in 16.4.
const (
	iosPushMajor = 16
	iosPushMinor = 4
)

var (
	iosDeviceRe  = regexp.MustCompile(`iPhone|iPad|iPod`)
	iosVersionRe = regexp.MustCompile(`OS (\d+)[_.](\d+)`)
	macVersionRe = regexp.MustCompile(`Version/(\d+)\.(\d+)`)
	chromiumRe   = regexp.MustCompile(`Chrome/|Chromium/|CriOS/|Edg/|OPR/|SamsungBrowser/`)
	firefoxRe    = regexp.MustCompile(`Firefox/|FxiOS/`)
)

// Detect maps signals to a capability set. It is pure; call it again whenever
// the installed state may have changed.
func Detect(sig Signals) Set {
	platform := Platform(sig)
	set := Set{
		Platform:  platform,
		Installed: sig.Standalone,
	}

	switch platform {
	case enums.DevicePlatformSafariIOS:
		major, minor, ok := iosVersion(sig.UserAgent)
		pushCapableOS := ok && (major > iosPushMajor || (major == iosPushMajor && minor >= iosPushMinor))
		switch {
		case !sig.Standalone:
			set.NotificationsSupported = true
			set.RequiresInstall = true
		case pushCapableOS && sig.PushManagerAPI:
			set.NotificationsSupported = sig.NotificationAPI
			set.BackgroundPushSupported = sig.ServiceWorkerAPI
		default:
			set.NotificationsSupported = sig.NotificationAPI
			set.Degraded = true
		}
		// No vibration API on WebKit for iOS.
		set.VibrationSupported = false
		return set
	case enums.DevicePlatformChromiumAndroid:
		set.VibrationSupported = sig.VibrateAPI
	}

	set.NotificationsSupported = sig.NotificationAPI
	set.BackgroundPushSupported = sig.NotificationAPI && sig.ServiceWorkerAPI && sig.PushManagerAPI
	if set.NotificationsSupported && !set.BackgroundPushSupported {
		set.Degraded = true
	}
	return set
}

// Platform classifies the browser family. iPadOS reports a desktop Mac UA, so a
// Macintosh UA with touch points is treated as iOS.
func Platform(sig Signals) enums.DevicePlatform {
	ua := sig.UserAgent
	switch {
	case isIOS(sig):
		return enums.DevicePlatformSafariIOS
	case strings.Contains(ua, "Android") && chromiumRe.MatchString(ua):
		return enums.DevicePlatformChromiumAndroid
	case firefoxRe.MatchString(ua):
		return enums.DevicePlatformFirefox
	case chromiumRe.MatchString(ua):
		return enums.DevicePlatformChromiumDesktop
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Macintosh"):
		return enums.DevicePlatformSafariDesktop
	default:
		return enums.DevicePlatformOther
	}
}

func isIOS(sig Signals) bool {
	if iosDeviceRe.MatchString(sig.UserAgent) {
		return true
	}
	return strings.Contains(sig.UserAgent, "Macintosh") && sig.MaxTouchPoints > 1
}

func iosVersion(ua string) (int, int, bool) {
	m := iosVersionRe.FindStringSubmatch(ua)
	if m == nil {
		// iPadOS desktop UA only carries the Safari version.
		m = macVersionRe.FindStringSubmatch(ua)
	}
	if m == nil {
		return 0, 0, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
