package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var errNoSnapshot = errors.New("no stored snapshot for this filter")

// emissionsSnapshot is one stored copy of the dashboard for a filter selection.
type emissionsSnapshot struct {
	ID          int64
	GeneratedAt time.Time
	Filter      FilterSelection
	ViewModel   DashboardViewModel
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func syncSnapshot(ctx context.Context, dsn string, snapshot emissionsSnapshot) (int64, error) {
	db, err := openDatabase(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := ensureSchema(ctx, db); err != nil {
		return 0, err
	}
	return insertSnapshot(ctx, db, snapshot)
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS emissions_console;`,
		`CREATE TABLE IF NOT EXISTS emissions_console.dashboard_snapshots (
			id BIGSERIAL PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			scope_filter TEXT NOT NULL,
			business_unit_filter TEXT NOT NULL,
			total_emissions NUMERIC(16,3) NOT NULL,
			scope1_emissions NUMERIC(16,3) NOT NULL,
			scope2_emissions NUMERIC(16,3) NOT NULL,
			scope3_emissions NUMERIC(16,3) NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS emissions_console.snapshot_business_units (
			id BIGSERIAL PRIMARY KEY,
			snapshot_id BIGINT NOT NULL REFERENCES emissions_console.dashboard_snapshots(id) ON DELETE CASCADE,
			position INT NOT NULL,
			business_unit TEXT NOT NULL,
			emissions NUMERIC(16,3) NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS emissions_console.snapshot_trend (
			id BIGSERIAL PRIMARY KEY,
			snapshot_id BIGINT NOT NULL REFERENCES emissions_console.dashboard_snapshots(id) ON DELETE CASCADE,
			position INT NOT NULL,
			month TEXT NOT NULL,
			emissions NUMERIC(16,3) NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS dashboard_snapshots_filter_idx ON emissions_console.dashboard_snapshots(scope_filter, business_unit_filter, generated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS snapshot_business_units_snapshot_idx ON emissions_console.snapshot_business_units(snapshot_id);`,
		`CREATE INDEX IF NOT EXISTS snapshot_trend_snapshot_idx ON emissions_console.snapshot_trend(snapshot_id);`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, db *sql.DB, snapshot emissionsSnapshot) (id int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	vm := snapshot.ViewModel
	row := tx.QueryRowContext(ctx, `
		INSERT INTO emissions_console.dashboard_snapshots (
			generated_at,
			scope_filter,
			business_unit_filter,
			total_emissions,
			scope1_emissions,
			scope2_emissions,
			scope3_emissions
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id;
	`,
		snapshot.GeneratedAt,
		string(snapshot.Filter.Scope),
		snapshot.Filter.BusinessUnit,
		vm.TotalEmissions,
		vm.EmissionsByScope[string(Scope1)],
		vm.EmissionsByScope[string(Scope2)],
		vm.EmissionsByScope[string(Scope3)],
	)
	if err = row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	unitStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emissions_console.snapshot_business_units (snapshot_id, position, business_unit, emissions)
		VALUES ($1,$2,$3,$4);
	`)
	if err != nil {
		return 0, err
	}
	defer unitStmt.Close()
	for position, unit := range vm.EmissionsByBusinessUnit.Keys {
		if _, err = unitStmt.ExecContext(ctx, id, position, unit, vm.EmissionsByBusinessUnit.Get(unit)); err != nil {
			return 0, fmt.Errorf("insert business unit %q: %w", unit, err)
		}
	}

	trendStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emissions_console.snapshot_trend (snapshot_id, position, month, emissions)
		VALUES ($1,$2,$3,$4);
	`)
	if err != nil {
		return 0, err
	}
	defer trendStmt.Close()
	for position, point := range vm.EmissionsTrend {
		if _, err = trendStmt.ExecContext(ctx, id, position, point.Month, point.Emissions); err != nil {
			return 0, fmt.Errorf("insert trend month %q: %w", point.Month, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// loadLatestSnapshot returns the newest stored snapshot taken with the same filters.
func loadLatestSnapshot(ctx context.Context, dsn string, filter FilterSelection) (emissionsSnapshot, error) {
	db, err := openDatabase(ctx, dsn)
	if err != nil {
		return emissionsSnapshot{}, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snapshot := emissionsSnapshot{Filter: filter, ViewModel: emptyViewModel()}
	var scope1, scope2, scope3 float64
	row := db.QueryRowContext(ctx, `
		SELECT id, generated_at, total_emissions, scope1_emissions, scope2_emissions, scope3_emissions
		FROM emissions_console.dashboard_snapshots
		WHERE scope_filter = $1 AND business_unit_filter = $2
		ORDER BY generated_at DESC
		LIMIT 1;
	`, string(filter.Scope), filter.BusinessUnit)
	err = row.Scan(&snapshot.ID, &snapshot.GeneratedAt, &snapshot.ViewModel.TotalEmissions, &scope1, &scope2, &scope3)
	if errors.Is(err, sql.ErrNoRows) {
		return emissionsSnapshot{}, errNoSnapshot
	}
	if err != nil {
		return emissionsSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot.ViewModel.EmissionsByScope[string(Scope1)] = scope1
	snapshot.ViewModel.EmissionsByScope[string(Scope2)] = scope2
	snapshot.ViewModel.EmissionsByScope[string(Scope3)] = scope3

	units, err := db.QueryContext(ctx, `
		SELECT business_unit, emissions
		FROM emissions_console.snapshot_business_units
		WHERE snapshot_id = $1
		ORDER BY position ASC;
	`, snapshot.ID)
	if err != nil {
		return emissionsSnapshot{}, err
	}
	defer units.Close()
	for units.Next() {
		var (
			unit      string
			emissions float64
		)
		if err := units.Scan(&unit, &emissions); err != nil {
			return emissionsSnapshot{}, err
		}
		snapshot.ViewModel.EmissionsByBusinessUnit.Keys = append(snapshot.ViewModel.EmissionsByBusinessUnit.Keys, unit)
		snapshot.ViewModel.EmissionsByBusinessUnit.Values[unit] = emissions
	}
	if err := units.Err(); err != nil {
		return emissionsSnapshot{}, err
	}

	trend, err := db.QueryContext(ctx, `
		SELECT month, emissions
		FROM emissions_console.snapshot_trend
		WHERE snapshot_id = $1
		ORDER BY position ASC;
	`, snapshot.ID)
	if err != nil {
		return emissionsSnapshot{}, err
	}
	defer trend.Close()
	for trend.Next() {
		var point TrendPoint
		if err := trend.Scan(&point.Month, &point.Emissions); err != nil {
			return emissionsSnapshot{}, err
		}
		snapshot.ViewModel.EmissionsTrend = append(snapshot.ViewModel.EmissionsTrend, point)
	}
	if err := trend.Err(); err != nil {
		return emissionsSnapshot{}, err
	}
	return snapshot, nil
}
