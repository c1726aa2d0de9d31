package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
)

// MaxMulticastTokens is the transport's per-request token limit.
const MaxMulticastTokens = 500

var urgentVibration = []int{300, 100, 300, 100, 300}

type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Sender is the push fan-out surface the dispatcher depends on.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) (Result, error)
}

// Client wraps Firebase Cloud Messaging multicast sends.
type Client struct {
	messaging multicaster
	icon      string
	logg      *logger.Logger
}

// Message is one notification fanned out to many devices. Data is carried
// verbatim so the background agent can route the click.
type Message struct {
	Title  string
	Body   string
	Link   string
	Tag    string
	Urgent bool
	Data   map[string]string
}

// Result summarizes a fan-out. Invalid tokens are permanently dead and safe
// to prune; other failures are transient.
type Result struct {
	SuccessCount  int
	FailureCount  int
	FailedTokens  []string
	InvalidTokens []string
}

// NewClient initializes the Firebase app with the configured credentials.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.FirebaseConfig, logg *logger.Logger) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case gcp.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case gcp.ApplicationCredentials != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}

	var appCfg *firebase.Config
	if gcp.ProjectID != "" {
		appCfg = &firebase.Config{ProjectID: gcp.ProjectID}
	}
	app, err := firebase.NewApp(ctx, appCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "fcm client initialized")
	}
	return newClient(messagingClient, cfg.Icon, logg), nil
}

func newClient(m multicaster, icon string, logg *logger.Logger) *Client {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Client{messaging: m, icon: icon, logg: logg}
}

// Send delivers msg to every token, chunking at MaxMulticastTokens. A
// transport error aborts the remaining chunks.
func (c *Client) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var result Result
	for start := 0; start < len(tokens); start += MaxMulticastTokens {
		end := start + MaxMulticastTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		resp, err := c.messaging.SendEachForMulticast(ctx, c.build(chunk, msg))
		if err != nil {
			return result, fmt.Errorf("fcm multicast: %w", err)
		}
		result.SuccessCount += resp.SuccessCount
		result.FailureCount += resp.FailureCount
		for i, r := range resp.Responses {
			if r == nil || r.Success || i >= len(chunk) {
				continue
			}
			result.FailedTokens = append(result.FailedTokens, chunk[i])
			if isInvalidToken(r.Error) {
				result.InvalidTokens = append(result.InvalidTokens, chunk[i])
			}
		}
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"tokens":   len(tokens),
		"success":  result.SuccessCount,
		"failures": result.FailureCount,
		"invalid":  len(result.InvalidTokens),
	}), "fcm multicast sent")
	return result, nil
}

func (c *Client) build(tokens []string, msg Message) *messaging.MulticastMessage {
	webNotification := &messaging.WebpushNotification{
		Title:              msg.Title,
		Body:               msg.Body,
		Icon:               c.icon,
		Tag:                msg.Tag,
		RequireInteraction: msg.Urgent,
	}
	androidPriority := "normal"
	if msg.Urgent {
		webNotification.Vibrate = urgentVibration
		androidPriority = "high"
	}
	webpush := &messaging.WebpushConfig{
		Data:         msg.Data,
		Notification: webNotification,
	}
	if msg.Link != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.Link}
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:    msg.Data,
		Webpush: webpush,
		Android: &messaging.AndroidConfig{Priority: androidPriority},
	}
}

func isInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) || messaging.IsSenderIDMismatch(err)
}
