package fcm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/confops/pkg/logger"
)

// Publisher is the subset of *redis.Client the loopback sender needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) (int64, error)
	PushChannel(token string) string
}

// Loopback delivers pushes over Redis pub/sub, one channel per device token.
// The ops console subscribes to its own channel, so the whole delivery path
// runs without Firebase credentials.
type Loopback struct {
	pub  Publisher
	icon string
	logg *logger.Logger
}

type loopbackPayload struct {
	Notification loopbackNotification `json:"notification"`
	Data         map[string]string    `json:"data,omitempty"`
}

type loopbackNotification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

func NewLoopback(pub Publisher, icon string, logg *logger.Logger) (*Loopback, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Loopback{pub: pub, icon: icon, logg: logg}, nil
}

// Send publishes msg to every token's channel. A token nobody listens on
// counts as a transient failure; loopback never reports invalid tokens.
func (l *Loopback) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	raw, err := json.Marshal(l.payload(msg))
	if err != nil {
		return Result{}, fmt.Errorf("encode loopback payload: %w", err)
	}
	var result Result
	for _, token := range tokens {
		n, err := l.pub.Publish(ctx, l.pub.PushChannel(token), raw)
		if err != nil {
			return result, fmt.Errorf("publish loopback push: %w", err)
		}
		if n == 0 {
			result.FailureCount++
			result.FailedTokens = append(result.FailedTokens, token)
			continue
		}
		result.SuccessCount++
	}
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"tokens":   len(tokens),
		"success":  result.SuccessCount,
		"failures": result.FailureCount,
	}), "loopback push sent")
	return result, nil
}

func (l *Loopback) payload(msg Message) loopbackPayload {
	data := make(map[string]string, len(msg.Data)+3)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.Urgent {
		setDefault(data, "priority", "urgent")
	}
	setDefault(data, "url", msg.Link)
	setDefault(data, "tag", msg.Tag)
	return loopbackPayload{
		Notification: loopbackNotification{Title: msg.Title, Body: msg.Body, Icon: l.icon, Tag: msg.Tag},
		Data:         data,
	}
}

func setDefault(data map[string]string, key, value string) {
	if value == "" {
		return
	}
	if _, ok := data[key]; !ok {
		data[key] = value
	}
}
