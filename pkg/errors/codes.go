package errors

import "net/http"

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Notification delivery failures. Their public messages are shown to the
	// operator as-is, so they read as guidance rather than as errors.
	CodeUnsupported          Code = "UNSUPPORTED"
	CodePermissionDenied     Code = "PERMISSION_DENIED"
	CodeAcquisitionFailed    Code = "ACQUISITION_FAILED"
	CodeDeliveryRenderFailed Code = "DELIVERY_RENDER_FAILED"
	CodeSubscriptionDropped  Code = "SUBSCRIPTION_DROPPED"
)

// Metadata drives how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
	// PublicMessage is sent when the error's own message must stay internal.
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage  bool
	DetailsAllowed bool
}

type flags uint8

const (
	retryable flags = 1 << iota
	exposed
	withDetails
)

func entry(status int, f flags, public string) Metadata {
	return Metadata{
		HTTPStatus:     status,
		Retryable:      f&retryable != 0,
		PublicMessage:  public,
		ExposeMessage:  f&exposed != 0,
		DetailsAllowed: f&withDetails != 0,
	}
}

var registry = map[Code]Metadata{
	CodeValidation:    entry(http.StatusBadRequest, exposed|withDetails, "validation failed"),
	CodeUnauthorized:  entry(http.StatusUnauthorized, exposed, "authentication required"),
	CodeForbidden:     entry(http.StatusForbidden, exposed, "access denied"),
	CodeNotFound:      entry(http.StatusNotFound, exposed, "resource not found"),
	CodeConflict:      entry(http.StatusConflict, exposed, "conflict detected"),
	CodeStateConflict: entry(http.StatusUnprocessableEntity, exposed|withDetails, "state transition disallowed"),
	CodeIdempotency:   entry(http.StatusConflict, exposed, "idempotency key reused"),
	CodeRateLimit:     entry(http.StatusTooManyRequests, exposed, "rate limit exceeded"),
	CodeInternal:      entry(http.StatusInternalServerError, retryable, "internal server error"),
	CodeDependency:    entry(http.StatusServiceUnavailable, retryable|withDetails, "dependency unavailable"),

	CodeUnsupported: entry(http.StatusNotImplemented, withDetails,
		"notifications are not available on this browser; alerts will appear inside the dashboard"),
	CodePermissionDenied: entry(http.StatusForbidden, withDetails,
		"notifications are blocked; allow them for this site in your browser settings"),
	CodeAcquisitionFailed: entry(http.StatusServiceUnavailable, withDetails,
		"running in reduced-notification mode; alerts will appear while the dashboard is open"),
	CodeDeliveryRenderFailed: entry(http.StatusInternalServerError, 0,
		"notification could not be displayed; showing it in the dashboard instead"),
	CodeSubscriptionDropped: entry(http.StatusServiceUnavailable, retryable,
		"live updates reconnecting"),
}

// MetadataFor falls back to CodeInternal for unregistered codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := registry[code]; ok {
		return meta
	}
	return registry[CodeInternal]
}

// Guidance is the operator-facing text for err. Untyped errors get the
// internal-error text.
func Guidance(err error) string {
	return MetadataFor(As(err).Code()).PublicMessage
}

// PublicMessage is what a client may see for err: its own message when the
// code allows it, otherwise the code's fixed text.
func PublicMessage(err error) string {
	typed := As(err)
	meta := MetadataFor(typed.Code())
	if meta.ExposeMessage && typed.Message() != "" {
		return typed.Message()
	}
	return meta.PublicMessage
}
