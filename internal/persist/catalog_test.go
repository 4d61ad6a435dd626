package persist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/knxlog/internal/audit"
	"github.com/nerrad567/knxlog/internal/bridges/knx"
)

func TestCatalogEnsurePointIdempotent(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "knx.db"))
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	metrics := newFakeRecorder()
	c := NewCatalog(db, nil, metrics)
	ctx := context.Background()

	for range 3 {
		if err := c.EnsurePoint(ctx, "data_5_0_2_9_001", knx.KindFloat); err != nil {
			t.Fatalf("EnsurePoint() error = %v", err)
		}
	}
	if !tableExists(t, db, "data_5_0_2_9_001") {
		t.Fatal("table not created")
	}
	if metrics.tablesCreated["point"] != 1 {
		t.Errorf("TableCreated(point) = %d, want 1", metrics.tablesCreated["point"])
	}

	// A fresh catalog finds the existing table by probing.
	fresh := NewCatalog(db, nil, metrics)
	if err := fresh.EnsurePoint(ctx, "data_5_0_2_9_001", knx.KindFloat); err != nil {
		t.Fatalf("EnsurePoint() on fresh catalog error = %v", err)
	}
	if metrics.tablesCreated["point"] != 1 {
		t.Errorf("probe of existing table counted as create")
	}
	if kind, ok := fresh.Known("data_5_0_2_9_001"); !ok || kind != knx.KindFloat {
		t.Errorf("Known() = %v, %v; want float", kind, ok)
	}
}

func TestCatalogEnsurePointKindMismatch(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "knx.db"))
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	ctx := context.Background()

	tests := []struct {
		name   string
		create knx.Kind
		write  knx.Kind
	}{
		{"integer table, float value", knx.KindInteger, knx.KindFloat},
		{"float table, integer value", knx.KindFloat, knx.KindInteger},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := []string{"data_1_1_1_5_010", "data_1_1_2_9_001"}[i]
			c := NewCatalog(db, nil, nil)
			if err := c.EnsurePoint(ctx, table, tt.create); err != nil {
				t.Fatalf("EnsurePoint(create) error = %v", err)
			}
			if err := c.EnsurePoint(ctx, table, tt.write); !errors.Is(err, ErrKindMismatch) {
				t.Errorf("EnsurePoint(cached) error = %v, want ErrKindMismatch", err)
			}
			if err := NewCatalog(db, nil, nil).EnsurePoint(ctx, table, tt.write); !errors.Is(err, ErrKindMismatch) {
				t.Errorf("EnsurePoint(probed) error = %v, want ErrKindMismatch", err)
			}
		})
	}
}

func TestCatalogEnsurePointRejects(t *testing.T) {
	db := openDB(t, filepath.Join(t.TempDir(), "knx.db"))
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	c := NewCatalog(db, nil, nil)
	ctx := context.Background()

	if err := c.EnsurePoint(ctx, "data_1_1_1_16_000", knx.KindText); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("EnsurePoint(text) error = %v, want ErrKindMismatch", err)
	}
	if err := c.EnsurePoint(ctx, `data"; DROP TABLE knx_log; --`, knx.KindInteger); !errors.Is(err, ErrInvalidTableName) {
		t.Errorf("EnsurePoint(injection) error = %v, want ErrInvalidTableName", err)
	}
}

func TestCatalogEnsureAuditAndReset(t *testing.T) {
	dir := t.TempDir()
	first := openDB(t, filepath.Join(dir, "a.db"))
	second := openDB(t, filepath.Join(dir, "b.db"))
	t.Cleanup(func() {
		first.Close()  //nolint:errcheck // Test cleanup
		second.Close() //nolint:errcheck // Test cleanup
	})
	ctx := context.Background()
	metrics := newFakeRecorder()
	c := NewCatalog(first, nil, metrics)

	for range 2 {
		if err := c.EnsureAudit(ctx); err != nil {
			t.Fatalf("EnsureAudit() error = %v", err)
		}
	}
	if err := c.EnsurePoint(ctx, "data_5_0_2_9_001", knx.KindFloat); err != nil {
		t.Fatal(err)
	}
	if metrics.tablesCreated["audit"] != 1 {
		t.Errorf("TableCreated(audit) = %d, want 1", metrics.tablesCreated["audit"])
	}

	c.Reset(second)
	if _, ok := c.Known("data_5_0_2_9_001"); ok {
		t.Error("Reset() kept point table cache")
	}
	if err := c.EnsureAudit(ctx); err != nil {
		t.Fatalf("EnsureAudit() after Reset error = %v", err)
	}
	if !tableExists(t, second, audit.TableName) {
		t.Error("audit table not created on new connection")
	}
}

func TestColumnKind(t *testing.T) {
	tests := []struct {
		typeName string
		want     knx.Kind
	}{
		{"INTEGER", knx.KindInteger},
		{"BIGINT", knx.KindInteger},
		{"int", knx.KindInteger},
		{"DOUBLE", knx.KindFloat},
		{"FLOAT", knx.KindFloat},
		{"REAL", knx.KindFloat},
		{"DECIMAL", knx.KindFloat},
		{"TEXT", knx.KindUnrepresentable},
		{"", knx.KindUnrepresentable},
	}
	for _, tt := range tests {
		if got := columnKind(tt.typeName); got != tt.want {
			t.Errorf("columnKind(%q) = %s, want %s", tt.typeName, got, tt.want)
		}
	}
}
