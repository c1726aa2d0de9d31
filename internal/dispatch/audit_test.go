package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingInserter struct {
	table string
	rows  []any
}

func (c *capturingInserter) Insert(_ context.Context, table string, rows any) error {
	c.table = table
	c.rows = append(c.rows, rows)
	return nil
}

func TestBigQueryAuditorStreamsRow(t *testing.T) {
	sink := &capturingInserter{}
	auditor, err := NewBigQueryAuditor(sink, " push_deliveries ")
	require.NoError(t, err)

	row := DeliveryRow{EventID: "e-1", EventType: "alert_created", AlertID: nullString("a-1"), Targets: 3, Delivered: 2, Failed: 1}
	require.NoError(t, auditor.Record(context.Background(), row))

	assert.Equal(t, "push_deliveries", sink.table)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, row, sink.rows[0])
}

func TestNewBigQueryAuditorValidates(t *testing.T) {
	_, err := NewBigQueryAuditor(nil, "t")
	assert.Error(t, err)
	_, err = NewBigQueryAuditor(&capturingInserter{}, " ")
	assert.Error(t, err)
}

func TestDeliveryTableSpec(t *testing.T) {
	spec := DeliveryTable(" push_deliveries ", 24*time.Hour)
	assert.Equal(t, "push_deliveries", spec.Name)
	assert.Equal(t, "sent_at", spec.PartitionBy)
	assert.IsType(t, DeliveryRow{}, spec.Row)

	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)
}
