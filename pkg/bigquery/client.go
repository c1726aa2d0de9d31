// Package bigquery wraps the BigQuery client for the append-only audit tables
// the workers stream into.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var errNoClient = errors.New("bigquery: client not initialized")

type Pinger interface {
	Ping(context.Context) error
}

// TableSpec describes a table Ensure creates when it is missing. The schema is
// inferred from Row's `bigquery` struct tags.
type TableSpec struct {
	Name string
	Row  any
	// PartitionBy names a TIMESTAMP column for daily partitioning.
	PartitionBy string
	// Expiry drops partitions older than this; zero keeps them forever.
	Expiry time.Duration
}

type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	logg    *logger.Logger
}

// NewClient connects and checks that the configured dataset exists. Tables are
// handled separately by Ensure.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	switch {
	case project == "":
		return nil, errors.New("bigquery: gcp project id required")
	case dataset == "":
		return nil, errors.New("bigquery: dataset required")
	}

	bq, err := bigquery.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: connect: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	c := &Client{bq: bq, dataset: bq.Dataset(dataset), logg: logg}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "dataset", dataset), "bigquery connected")
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if js := strings.TrimSpace(gcp.CredentialsJSON); js != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(js))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping reads the dataset metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNoClient
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return fmt.Errorf("bigquery: dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("bigquery: dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// Ensure creates each missing table. A table created concurrently by another
// worker counts as success.
func (c *Client) Ensure(ctx context.Context, specs ...TableSpec) error {
	if c == nil || c.dataset == nil {
		return errNoClient
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	for _, spec := range specs {
		table := c.dataset.Table(spec.Name)
		_, err := table.Metadata(ctx)
		if err == nil {
			continue
		}
		if !hasStatus(err, http.StatusNotFound) {
			return fmt.Errorf("bigquery: table %q: %w", spec.Name, err)
		}
		meta, err := tableMetadata(spec)
		if err != nil {
			return err
		}
		if err := table.Create(ctx, meta); err != nil && !hasStatus(err, http.StatusConflict) {
			return fmt.Errorf("bigquery: create table %q: %w", spec.Name, err)
		}
		c.logg.Info(c.logg.WithField(ctx, "table", spec.Name), "bigquery table created")
	}
	return nil
}

func tableMetadata(spec TableSpec) (*bigquery.TableMetadata, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("bigquery: table name required")
	}
	schema, err := bigquery.InferSchema(spec.Row)
	if err != nil {
		return nil, fmt.Errorf("bigquery: infer schema for %q: %w", spec.Name, err)
	}
	meta := &bigquery.TableMetadata{Schema: schema}
	if spec.PartitionBy != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:       bigquery.DayPartitioningType,
			Field:      spec.PartitionBy,
			Expiration: spec.Expiry,
		}
	}
	return meta, nil
}

// Insert streams rows, a struct or slice of structs, into table. Partial
// failures report how many rows were rejected.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	if c == nil || c.dataset == nil {
		return errNoClient
	}
	err := c.dataset.Table(table).Inserter().Put(ctx, rows)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return fmt.Errorf("bigquery: %d row(s) rejected by %q: %w", len(multi), table, err)
	}
	return err
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func hasStatus(err error, status int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == status
}
