package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testDSN skips unless a disposable Postgres database is configured.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("EMISSIONS_TEST_DSN"))
	if dsn == "" {
		t.Skip("EMISSIONS_TEST_DSN not set")
	}
	return dsn
}

// isolatedFilter gives each test its own filter so stored rows never collide.
func isolatedFilter(t *testing.T, dsn string) FilterSelection {
	t.Helper()
	filter := FilterSelection{Scope: Scope2, BusinessUnit: "test-" + uuid.NewString()}
	t.Cleanup(func() {
		ctx := context.Background()
		db, err := openDatabase(ctx, dsn)
		if err != nil {
			return
		}
		defer db.Close()
		_, _ = db.ExecContext(ctx, `
			DELETE FROM emissions_console.dashboard_snapshots
			WHERE scope_filter = $1 AND business_unit_filter = $2;
		`, string(filter.Scope), filter.BusinessUnit)
	})
	return filter
}

func TestSnapshotRoundTripKeepsOrder(t *testing.T) {
	dsn := testDSN(t)
	filter := isolatedFilter(t, dsn)
	ctx := context.Background()

	vm := emptyViewModel()
	vm.TotalEmissions = 120.5
	vm.EmissionsByScope["Scope 2"] = 120.5
	vm.EmissionsByBusinessUnit = UnitEmissions{
		Keys:   []string{"Supply Chain", "Data Center", "Manufacturing"},
		Values: map[string]float64{"Supply Chain": 60, "Data Center": 40.25, "Manufacturing": 20.25},
	}
	vm.EmissionsTrend = []TrendPoint{{"2024-03", 50}, {"2024-01", 30.5}, {"2024-02", 40}}

	older := emissionsSnapshot{GeneratedAt: time.Now().Add(-time.Hour), Filter: filter, ViewModel: emptyViewModel()}
	if _, err := syncSnapshot(ctx, dsn, older); err != nil {
		t.Fatalf("store older snapshot: %v", err)
	}
	id, err := syncSnapshot(ctx, dsn, emissionsSnapshot{GeneratedAt: time.Now(), Filter: filter, ViewModel: vm})
	if err != nil {
		t.Fatalf("store snapshot: %v", err)
	}

	loaded, err := loadLatestSnapshot(ctx, dsn, filter)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded.ID != id {
		t.Fatalf("expected newest snapshot %d, got %d", id, loaded.ID)
	}
	if loaded.ViewModel.TotalEmissions != 120.5 || loaded.ViewModel.EmissionsByScope["Scope 2"] != 120.5 {
		t.Fatalf("unexpected totals %+v", loaded.ViewModel)
	}
	if got := strings.Join(loaded.ViewModel.EmissionsByBusinessUnit.Keys, ","); got != "Supply Chain,Data Center,Manufacturing" {
		t.Fatalf("expected stored unit order, got %s", got)
	}
	if got := loaded.ViewModel.EmissionsByBusinessUnit.Get("Data Center"); got != 40.25 {
		t.Fatalf("expected Data Center 40.25, got %0.3f", got)
	}
	if len(loaded.ViewModel.EmissionsTrend) != 3 || loaded.ViewModel.EmissionsTrend[0] != (TrendPoint{"2024-03", 50}) {
		t.Fatalf("expected stored trend order, got %+v", loaded.ViewModel.EmissionsTrend)
	}
}

func TestFailedSnapshotInsertRollsBack(t *testing.T) {
	dsn := testDSN(t)
	filter := isolatedFilter(t, dsn)
	ctx := context.Background()

	vm := emptyViewModel()
	vm.TotalEmissions = 10
	// NUMERIC(16,3) overflows here, after the snapshot row is already inserted
	vm.EmissionsByBusinessUnit = UnitEmissions{Keys: []string{"Fleet"}, Values: map[string]float64{"Fleet": 1e15}}

	if _, err := syncSnapshot(ctx, dsn, emissionsSnapshot{GeneratedAt: time.Now(), Filter: filter, ViewModel: vm}); err == nil {
		t.Fatalf("expected the oversized unit value to fail the insert")
	}
	if _, err := loadLatestSnapshot(ctx, dsn, filter); !errors.Is(err, errNoSnapshot) {
		t.Fatalf("expected no snapshot after rollback, got %v", err)
	}
}
