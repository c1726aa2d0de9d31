package enums

// PayloadType tags a push payload so the click-through target can be derived.
type PayloadType string

const (
	PayloadTypeTimer      PayloadType = "timer"
	PayloadTypeAttendance PayloadType = "attendance"
	PayloadTypeFile       PayloadType = "file"
	PayloadTypeReply      PayloadType = "reply"
	PayloadTypeDocument   PayloadType = "document"
	PayloadTypeAlert      PayloadType = "alert"
)

var payloadTypes = newSet("payload type",
	PayloadTypeTimer,
	PayloadTypeAttendance,
	PayloadTypeFile,
	PayloadTypeReply,
	PayloadTypeDocument,
	PayloadTypeAlert,
)

func (p PayloadType) String() string { return string(p) }

func (p PayloadType) IsValid() bool { return payloadTypes.has(p) }

func ParsePayloadType(value string) (PayloadType, error) {
	return payloadTypes.parse(value)
}
