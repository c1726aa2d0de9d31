package bigquery

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/confops/pkg/config"
)

type auditRow struct {
	EventID string    `bigquery:"event_id"`
	Targets int       `bigquery:"targets"`
	SentAt  time.Time `bigquery:"sent_at"`
}

func TestTableMetadataInfersSchema(t *testing.T) {
	meta, err := tableMetadata(TableSpec{Name: "push_deliveries", Row: auditRow{}, PartitionBy: "sent_at", Expiry: 90 * 24 * time.Hour})
	require.NoError(t, err)

	require.Len(t, meta.Schema, 3)
	assert.Equal(t, "event_id", meta.Schema[0].Name)
	assert.Equal(t, bigquery.IntegerFieldType, meta.Schema[1].Type)
	assert.Equal(t, bigquery.TimestampFieldType, meta.Schema[2].Type)
	require.NotNil(t, meta.TimePartitioning)
	assert.Equal(t, "sent_at", meta.TimePartitioning.Field)
	assert.Equal(t, 90*24*time.Hour, meta.TimePartitioning.Expiration)
}

func TestTableMetadataRejectsBadSpecs(t *testing.T) {
	_, err := tableMetadata(TableSpec{Row: auditRow{}})
	assert.Error(t, err)
	_, err = tableMetadata(TableSpec{Name: "t", Row: 42})
	assert.Error(t, err)

	meta, err := tableMetadata(TableSpec{Name: "t", Row: auditRow{}})
	require.NoError(t, err)
	assert.Nil(t, meta.TimePartitioning)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	assert.Empty(t, clientOptions(config.GCPConfig{CredentialsJSON: "  "}))
}

func TestHasStatus(t *testing.T) {
	notFound := fmt.Errorf("metadata: %w", &googleapi.Error{Code: http.StatusNotFound})
	assert.True(t, hasStatus(notFound, http.StatusNotFound))
	assert.False(t, hasStatus(notFound, http.StatusConflict))
	assert.False(t, hasStatus(errors.New("timeout"), http.StatusNotFound))
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.Ping(t.Context()), errNoClient)
	assert.ErrorIs(t, c.Insert(t.Context(), "t", auditRow{}), errNoClient)
	assert.NoError(t, c.Close())
}
