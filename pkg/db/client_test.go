package db

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
)

type council struct {
	ID   int
	Name string
}

func newSQLiteClient(t *testing.T, logg *logger.Logger, slow time.Duration) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "confops.db"),
		SlowQuery:  slow,
	}, logg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.DB().AutoMigrate(&council{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func countCouncils(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	if err := c.DB().Model(&council{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestNewReportsDriverAndPings(t *testing.T) {
	c := newSQLiteClient(t, nil, 0)
	if c.Driver() != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %s", c.Driver())
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	c := newSQLiteClient(t, nil, 0)
	ctx := context.Background()

	if err := c.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&council{Name: "Security Council"}).Error
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&council{Name: "General Assembly"}).Error; err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected the callback error back")
	}
	if n := countCouncils(t, c); n != 1 {
		t.Fatalf("expected 1 council after rollback, got %d", n)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	c := newSQLiteClient(t, nil, 0)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = c.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&council{Name: "ECOSOC"})
			panic("boom")
		})
	}()

	if n := countCouncils(t, c); n != 0 {
		t.Fatalf("expected panic to roll back, got %d rows", n)
	}
}

func TestSlowQueriesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	c := newSQLiteClient(t, logg, time.Nanosecond)

	countCouncils(t, c)
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("expected slow query log, got %s", buf.String())
	}
}

func TestMissingRowsAreNotLoggedAsFailures(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	c := newSQLiteClient(t, logg, 0)

	var row council
	err := c.DB().First(&row, 42).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if strings.Contains(buf.String(), "query failed") {
		t.Fatalf("record not found should stay quiet: %s", buf.String())
	}
}

func TestDialectorForSelectsDriver(t *testing.T) {
	d, err := dialectorFor(config.DBConfig{Driver: "SQLite", SQLitePath: "file::memory:"})
	if err != nil || d.Name() != "sqlite" {
		t.Fatalf("expected sqlite dialector, got %v (%v)", d, err)
	}
	if _, err := dialectorFor(config.DBConfig{Driver: DriverSQLite}); err == nil {
		t.Fatal("expected error without sqlite path")
	}
	if _, err := dialectorFor(config.DBConfig{Driver: DriverPostgres}); err == nil {
		t.Fatal("expected error when postgres DSN is missing")
	}
	d, err = dialectorFor(config.DBConfig{DSN: "postgres://localhost/confops"})
	if err != nil || d.Name() != "postgres" {
		t.Fatalf("expected postgres dialector, got %v (%v)", d, err)
	}
}
