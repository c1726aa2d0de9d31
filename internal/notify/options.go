// Package notify is the rendering contract shared by background and foreground
// delivery: option construction plus the display, toast and audio ports.
package notify

import (
	"github.com/angelmondragon/confops/internal/capability"
)

var (
	defaultVibration = []int{200, 100, 200}
	urgentVibration  = []int{300, 100, 300, 100, 300}
)

// Assets are the pre-warmed resources a notification references.
type Assets struct {
	Icon  string
	Badge string
	Sound string
}

// Options mirror the platform notification options.
type Options struct {
	Body               string         `json:"body,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Renotify           bool           `json:"renotify,omitempty"`
}

// URL returns the click-through target stored in Data, if any.
func (o Options) URL() string {
	if o.Data == nil {
		return ""
	}
	if v, ok := o.Data["url"].(string); ok {
		return v
	}
	return ""
}

// Params drive BuildOptions.
type Params struct {
	Body         string
	Tag          string
	URL          string
	Data         map[string]any
	Urgent       bool
	Capabilities capability.Set
	Assets       Assets
}

// BuildOptions merges platform-appropriate extras into the base options.
// Vibration is attached only where the platform supports it.
func BuildOptions(p Params) Options {
	data := make(map[string]any, len(p.Data)+1)
	for k, v := range p.Data {
		data[k] = v
	}
	if p.URL != "" {
		data["url"] = p.URL
	}

	opts := Options{
		Body:               p.Body,
		Icon:               p.Assets.Icon,
		Badge:              p.Assets.Badge,
		Tag:                p.Tag,
		Data:               data,
		RequireInteraction: p.Urgent,
		Renotify:           p.Tag != "",
	}
	if p.Capabilities.Has(capability.Vibration) {
		pattern := defaultVibration
		if p.Urgent {
			pattern = urgentVibration
		}
		opts.Vibrate = append([]int(nil), pattern...)
	}
	return opts
}

// FromMap converts loosely typed options, as carried by TEST_NOTIFICATION,
// into Options. Unknown keys are kept under Data.
func FromMap(body string, raw map[string]any) Options {
	opts := Options{Body: body, Data: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "body":
			if s, ok := v.(string); ok {
				opts.Body = s
			}
		case "icon":
			opts.Icon, _ = v.(string)
		case "badge":
			opts.Badge, _ = v.(string)
		case "tag":
			opts.Tag, _ = v.(string)
		case "requireInteraction":
			opts.RequireInteraction, _ = v.(bool)
		case "data":
			if m, ok := v.(map[string]any); ok {
				for dk, dv := range m {
					opts.Data[dk] = dv
				}
			}
		default:
			opts.Data[k] = v
		}
	}
	return opts
}
