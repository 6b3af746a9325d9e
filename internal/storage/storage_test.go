package storage

import (
	"context"
	"testing"

	"permit_portal_backend/platform/config"
)

type testDBConfig struct {
	driver string
}

func (c testDBConfig) GetDatabaseDriver() string { return c.driver }
func (c testDBConfig) GetDatabaseURL() string    { return ":memory:" }
func (c testDBConfig) GetMigrationsDir() string  { return "" }

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testDBConfig{driver: config.DriverSQLite})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Health.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if s.Stages == nil || s.Inspections == nil {
		t.Fatal("expected both stores")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), testDBConfig{driver: "mysql"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
