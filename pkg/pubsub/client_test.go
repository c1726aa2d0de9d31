package pubsub

import (
	"context"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/angelmondragon/confops/pkg/config"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

const project = "confops-test"

func fakeServer(t *testing.T, topic, sub string) option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	admin, err := gcppubsub.NewClient(ctx, project, option.WithGRPCConn(conn))
	require.NoError(t, err)
	topicName := "projects/" + project + "/topics/" + topic
	_, err = admin.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	if sub != "" {
		_, err = admin.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
			Name:  "projects/" + project + "/subscriptions/" + sub,
			Topic: topicName,
		})
		require.NoError(t, err)
	}
	return option.WithGRPCConn(conn)
}

func TestSendPublishesWithAttributes(t *testing.T) {
	conn := fakeServer(t, "alerts", "alerts-push")
	ctx := context.Background()
	c, err := NewClient(ctx, config.GCPConfig{ProjectID: project}, config.PubSubConfig{
		AlertsTopic:        "alerts",
		AlertsSubscription: "alerts-push",
	}, logger.Nop(), conn)
	require.NoError(t, err)

	id, err := c.Send(ctx, "alerts", []byte(`{"eventId":"e-1"}`), map[string]string{"event_type": "alert_created"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotNil(t, c.AlertsSubscription())

	// Publishers are cached per topic.
	first, err := c.publisher("alerts")
	require.NoError(t, err)
	second, err := c.publisher("alerts")
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, c.Close())
}

func TestNewClientFailsOnMissingResources(t *testing.T) {
	conn := fakeServer(t, "alerts", "")
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: project}, config.PubSubConfig{
		AlertsTopic:        "alerts",
		AlertsSubscription: "missing",
	}, nil, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `subscription "missing" does not exist`)

	_, err = NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)
}

func TestSendRejectsEmptyTopic(t *testing.T) {
	c := &Client{}
	_, err := c.Send(context.Background(), " ", nil, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = c.Send(context.Background(), "alerts", nil, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestResourceNames(t *testing.T) {
	c := &Client{project: "p"}
	assert.Equal(t, "projects/p/topics/alerts", c.resource("topics", "alerts"))
	assert.Equal(t, "projects/o/topics/alerts", c.resource("topics", "projects/o/topics/alerts"))
	assert.Equal(t, "projects/p/subscriptions/s", c.resource("subscriptions", "s"))
}
