// Package pubsub wraps the Pub/Sub v2 client: a cached publisher per topic
// for the outbox relay and the alerts subscriber the push worker drains.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/confops/pkg/config"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

type Client struct {
	gcp     *pubsub.Client
	project string
	cfg     config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and checks that every configured topic and
// subscription exists. opts is for emulators and tests.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, opts ...option.ClientOption) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		gcp:        raw,
		project:    project,
		cfg:        cfg,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "gcp_project", project), "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms the configured resources still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.gcp == nil {
		return errors.New("pubsub client not initialized")
	}
	if topic := strings.TrimSpace(c.cfg.AlertsTopic); topic != "" {
		_, err := c.gcp.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.resource("topics", topic)})
		if err := describeLookup("topic", topic, err); err != nil {
			return err
		}
	}
	if sub := strings.TrimSpace(c.cfg.AlertsSubscription); sub != "" {
		_, err := c.gcp.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.resource("subscriptions", sub)})
		if err := describeLookup("subscription", sub, err); err != nil {
			return err
		}
	}
	return nil
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Send publishes one message and waits for the server id. Errors the broker
// will never accept are validation-coded; everything else is a dependency
// error worth retrying.
func (c *Client) Send(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	pub, err := c.publisher(topic)
	if err != nil {
		return "", err
	}
	id, err := pub.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err == nil {
		return id, nil
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied:
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "pubsub rejected message")
	default:
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish to "+topic)
	}
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "topic name is required")
	}
	if c == nil || c.gcp == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pubsub client not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[topic]; ok {
		return pub, nil
	}
	pub := c.gcp.Publisher(c.resource("topics", topic))
	c.publishers[topic] = pub
	return pub, nil
}

// AlertsSubscription is the subscriber the push dispatcher drains.
func (c *Client) AlertsSubscription() *pubsub.Subscriber {
	name := strings.TrimSpace(c.cfg.AlertsSubscription)
	if c.gcp == nil || name == "" {
		return nil
	}
	return c.gcp.Subscriber(c.resource("subscriptions", name))
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.gcp == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.gcp.Close()
}

// resource expands a bare id to projects/<project>/<kind>/<id>. Full
// resource names pass through.
func (c *Client) resource(kind, name string) string {
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return "projects/" + c.project + "/" + kind + "/" + name
}
