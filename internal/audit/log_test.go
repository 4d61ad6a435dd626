package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	l := New(db)
	if _, err := l.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
	return l
}

func strPtr(s string) *string { return &s }

func TestEnsureTableIsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), database.Config{
		Path: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	l := New(db)
	ctx := context.Background()

	if err := l.Exists(ctx); err == nil {
		t.Fatal("Exists() on empty database returned nil")
	}

	created, err := l.EnsureTable(ctx)
	if err != nil || !created {
		t.Fatalf("first EnsureTable() = (%v, %v), want (true, nil)", created, err)
	}
	created, err = l.EnsureTable(ctx)
	if err != nil || created {
		t.Fatalf("second EnsureTable() = (%v, %v), want (false, nil)", created, err)
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, TableName).Scan(&n); err != nil {
		t.Fatalf("counting tables: %v", err)
	}
	if n != 1 {
		t.Errorf("found %d %s tables, want 1", n, TableName)
	}
}

func TestInsertAndRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	berlin := time.FixedZone("CET", 3600)
	base := time.Date(2026, 3, 1, 13, 0, 0, 0, berlin)

	entries := []Entry{
		{Timestamp: base, Source: "1.1.4", Destination: "5/0/2", Description: "Küche", DPT: "9.001", Value: strPtr("21.7")},
		{Timestamp: base.Add(time.Second), Source: "1.1.1", Destination: "1/0/9", DPT: "1.001", Value: strPtr("true")},
		{Timestamp: base.Add(2 * time.Second), Source: "1.1.4", Destination: "5/0/2", DPT: "9.001"},
	}
	for _, e := range entries {
		if err := l.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	all, err := l.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Recent() returned %d rows, want 3", len(all))
	}
	if all[0].Value != nil {
		t.Errorf("newest row value = %q, want NULL", *all[0].Value)
	}
	if all[2].Value == nil || *all[2].Value != "21.7" {
		t.Errorf("oldest row value = %v, want 21.7", all[2].Value)
	}
	if all[2].Description != "Küche" {
		t.Errorf("Description = %q, want Küche", all[2].Description)
	}
	if !all[2].Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", all[2].Timestamp, base)
	}

	only, err := l.Recent(ctx, Filter{Destination: "5/0/2", Limit: 1})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(only) != 1 || only[0].Destination != "5/0/2" || only[0].Value != nil {
		t.Errorf("Recent(5/0/2, 1) = %+v", only)
	}

	since, err := l.Recent(ctx, Filter{Since: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Recent(since) returned %d rows, want 2", len(since))
	}
}

func TestSweepRemovesOnlyExpiredRows(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	cutoff := Cutoff(now, 3)
	if want := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC); !cutoff.Equal(want) {
		t.Fatalf("Cutoff() = %v, want %v", cutoff, want)
	}

	old := Entry{Timestamp: cutoff.Add(-time.Minute), Source: "1.1.1", Destination: "1/0/9", DPT: "1.001", Value: strPtr("false")}
	edge := Entry{Timestamp: cutoff, Source: "1.1.1", Destination: "1/0/9", DPT: "1.001", Value: strPtr("true")}
	fresh := Entry{Timestamp: now, Source: "1.1.1", Destination: "1/0/9", DPT: "1.001", Value: strPtr("true")}
	for _, e := range []Entry{old, edge, fresh} {
		if err := l.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	n, err := l.Sweep(ctx, cutoff)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d rows, want 1", n)
	}

	rest, err := l.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("%d rows left, want 2", len(rest))
	}
	for _, e := range rest {
		if e.Timestamp.Before(cutoff) {
			t.Errorf("row at %v survived the sweep", e.Timestamp)
		}
	}

	if n, err := l.Sweep(ctx, cutoff); err != nil || n != 0 {
		t.Errorf("second Sweep() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    knx.Value
		want *string
	}{
		{"unrepresentable", knx.Unrepresentable(), nil},
		{"float", knx.FloatValue(21.7), strPtr("21.7")},
		{"integer", knx.IntValue(-128), strPtr("-128")},
		{"boolean", knx.BoolValue(true), strPtr("true")},
		{"text", knx.TextValue("1,3"), strPtr("1,3")},
		{"long text", knx.TextValue(strings.Repeat("x", 50)), strPtr(strings.Repeat("x", 40))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatValue(tt.v)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("FormatValue() = %q, want nil", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("FormatValue() = %v, want %q", got, *tt.want)
			}
		})
	}
}
