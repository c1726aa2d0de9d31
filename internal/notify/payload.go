package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/confops/internal/deeplink"
)

const DefaultTitle = "Conference update"

// Payload is a decoded push payload, as delivered to the background agent
// or to a focused page.
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

type wirePayload struct {
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
}

// DecodePayload accepts both the flat {title, body, data} shape and the
// transport's {notification:{title, body}, data} shape.
func DecodePayload(raw []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return Payload{}, fmt.Errorf("decode push payload: %w", err)
	}
	p := Payload{Title: w.Title, Body: w.Body, Data: w.Data}
	if w.Notification != nil {
		if p.Title == "" {
			p.Title = w.Notification.Title
		}
		if p.Body == "" {
			p.Body = w.Notification.Body
		}
	}
	if p.Data == nil {
		p.Data = map[string]string{}
	}
	if p.Title == "" {
		p.Title = FirstNonEmpty(p.Data["title"], DefaultTitle)
	}
	if p.Body == "" {
		p.Body = p.Data["body"]
	}
	return p, nil
}

// Urgent reports whether the payload asks for the urgent treatment.
func (p Payload) Urgent() bool {
	return strings.EqualFold(p.Data["priority"], "urgent")
}

// Tag groups repeated notifications for the same subject.
func (p Payload) Tag() string {
	if tag := p.Data["tag"]; tag != "" {
		return tag
	}
	if id := p.Data["alertId"]; id != "" {
		return "alert-" + id
	}
	return p.Data["type"]
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Link builds the routing input of the payload. lastKnownRole covers payloads
// sent without a role.
func (p Payload) Link(lastKnownRole string) deeplink.Input {
	return deeplink.Input{
		Type:          p.Data["type"],
		Role:          p.Data["role"],
		AlertID:       p.Data["alertId"],
		ExplicitURL:   p.Data["url"],
		LastKnownRole: lastKnownRole,
	}
}

// DataMap widens Data for notification options.
func (p Payload) DataMap() map[string]any {
	out := make(map[string]any, len(p.Data))
	for k, v := range p.Data {
		out[k] = v
	}
	return out
}
