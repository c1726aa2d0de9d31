package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	bqclient "github.com/angelmondragon/confops/pkg/bigquery"
)

type tableInserter interface {
	Insert(ctx context.Context, table string, rows any) error
}

// DeliveryRow is one fan-out summary in the delivery audit table.
type DeliveryRow struct {
	EventID   string               `bigquery:"event_id"`
	EventType string               `bigquery:"event_type"`
	AlertID   cbigquery.NullString `bigquery:"alert_id"`
	Targets   int                  `bigquery:"targets"`
	Delivered int                  `bigquery:"delivered"`
	Failed    int                  `bigquery:"failed"`
	Pruned    int                  `bigquery:"pruned"`
	SentAt    time.Time            `bigquery:"sent_at"`
}

// Auditor records delivery summaries.
type Auditor interface {
	Record(ctx context.Context, row DeliveryRow) error
}

// BigQueryAuditor streams delivery rows into the configured table.
type BigQueryAuditor struct {
	client tableInserter
	table  string
}

func NewBigQueryAuditor(client tableInserter, table string) (*BigQueryAuditor, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery delivery table required")
	}
	return &BigQueryAuditor{client: client, table: strings.TrimSpace(table)}, nil
}

func (a *BigQueryAuditor) Record(ctx context.Context, row DeliveryRow) error {
	return a.client.Insert(ctx, a.table, row)
}

// DeliveryTable is the audit table spec, partitioned daily on sent_at.
func DeliveryTable(name string, retention time.Duration) bqclient.TableSpec {
	return bqclient.TableSpec{Name: strings.TrimSpace(name), Row: DeliveryRow{}, PartitionBy: "sent_at", Expiry: retention}
}

func nullString(value string) cbigquery.NullString {
	if value == "" {
		return cbigquery.NullString{}
	}
	return cbigquery.NullString{StringVal: value, Valid: true}
}
