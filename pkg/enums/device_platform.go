package enums

// DevicePlatform records which browser family minted a device token.
type DevicePlatform string

const (
	DevicePlatformChromiumDesktop DevicePlatform = "chromium_desktop"
	DevicePlatformChromiumAndroid DevicePlatform = "chromium_android"
	DevicePlatformSafariDesktop   DevicePlatform = "safari_desktop"
	DevicePlatformSafariIOS       DevicePlatform = "safari_ios"
	DevicePlatformFirefox         DevicePlatform = "firefox"
	DevicePlatformOther           DevicePlatform = "other"
)

var devicePlatforms = newSet("device platform",
	DevicePlatformChromiumDesktop,
	DevicePlatformChromiumAndroid,
	DevicePlatformSafariDesktop,
	DevicePlatformSafariIOS,
	DevicePlatformFirefox,
	DevicePlatformOther,
)

func (p DevicePlatform) String() string { return string(p) }

func (p DevicePlatform) IsValid() bool { return devicePlatforms.has(p) }

func ParseDevicePlatform(value string) (DevicePlatform, error) {
	return devicePlatforms.parse(value)
}
