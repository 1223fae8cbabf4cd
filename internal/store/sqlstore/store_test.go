package sqlstore

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/geo"
	"github.com/mohammed-shakir/hotspot-cache/internal/logger"
)

func intp(n int) *int { return &n }

func newSQLite(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := OpenSQLite(ctx, logger.Discard(), filepath.Join(t.TempDir(), "nested", "hotspots.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(hs []model.Hotspot) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.ID)
	}
	sort.Strings(out)
	return out
}

func TestSQLite_UpsertThenInBox_NoDuplicates(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	hs := []model.Hotspot{
		{ID: "L1", Name: "Marsh", CountryCode: "SE", SubnationalCode: "SE-AB", Lat: 59.33, Lng: 18.06, NumSpeciesAllTime: intp(120), LatestObsDt: "2026-09-30 06:00", UpdatedAt: now.UnixMilli()},
		{ID: "L2", Name: "Lake", CountryCode: "SE", Lat: 59.35, Lng: 18.10, UpdatedAt: now.UnixMilli()},
		{ID: "FAR", Name: "Elsewhere", CountryCode: "NO", Lat: 10, Lng: 10, UpdatedAt: now.UnixMilli()},
	}
	if err := s.Upsert(ctx, hs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// re-upsert with a new name must replace, not duplicate
	hs[0].Name = "Marsh (north)"
	if err := s.Upsert(ctx, hs[:1]); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	box := geo.BoundingBox(model.LatLng{Lat: 59.34, Lng: 18.08}, 10)
	got, err := s.InBox(ctx, box, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("InBox: %v", err)
	}
	if want := []string{"L1", "L2"}; !equal(ids(got), want) {
		t.Fatalf("ids=%v want %v", ids(got), want)
	}
	for _, h := range got {
		switch h.ID {
		case "L1":
			if h.Name != "Marsh (north)" || h.SubnationalCode != "SE-AB" || h.SpeciesCount() != 120 || h.LatestObsDt == "" {
				t.Fatalf("L1 not round-tripped: %+v", h)
			}
		case "L2":
			if h.NumSpeciesAllTime != nil || h.SubnationalCode != "" {
				t.Fatalf("L2 nullable fields should stay empty: %+v", h)
			}
		}
	}
}

func TestSQLite_InBoxHonoursFreshness(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Upsert(ctx, []model.Hotspot{
		{ID: "old", Name: "a", CountryCode: "SE", Lat: 1, Lng: 1, UpdatedAt: now.Add(-48 * time.Hour).UnixMilli()},
		{ID: "new", Name: "b", CountryCode: "SE", Lat: 1, Lng: 1, UpdatedAt: now.UnixMilli()},
	})

	box := model.BBox{SW: model.LatLng{Lat: 0, Lng: 0}, NE: model.LatLng{Lat: 2, Lng: 2}}
	got, err := s.InBox(ctx, box, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("InBox: %v", err)
	}
	if want := []string{"new"}; !equal(ids(got), want) {
		t.Fatalf("ids=%v want %v", ids(got), want)
	}
}

func TestSQLite_ClearEmptiesStore(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	now := time.Now()
	_ = s.Upsert(ctx, []model.Hotspot{{ID: "x", Name: "x", CountryCode: "SE", Lat: 1, Lng: 1, UpdatedAt: now.UnixMilli()}})

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	box := model.BBox{SW: model.LatLng{Lat: -90, Lng: -180}, NE: model.LatLng{Lat: 90, Lng: 180}}
	got, err := s.InBox(ctx, box, time.Time{})
	if err != nil {
		t.Fatalf("InBox: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store after Clear, got %d", len(got))
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func newMockPostgres(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS hotspots")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_hotspots_lat_lng")).WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := New(context.Background(), logger.Discard(), sqlx.NewDb(mockDB, "postgres"), "postgres")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func TestPostgres_UpsertUsesDollarPlaceholdersInOneTx(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO hotspots .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)\s+ON CONFLICT\(id\) DO UPDATE`).
		WithArgs("L1", "Marsh", "SE", sqlmock.AnyArg(), 59.3, 18.0, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO hotspots`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []model.Hotspot{
		{ID: "L1", Name: "Marsh", CountryCode: "SE", Lat: 59.3, Lng: 18.0, UpdatedAt: 42},
		{ID: "L2", Name: "Lake", CountryCode: "SE", Lat: 59.4, Lng: 18.1, UpdatedAt: 42},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_UpsertRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO hotspots`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []model.Hotspot{{ID: "L1", Name: "x", CountryCode: "SE"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_InBoxScansRows(t *testing.T) {
	s, mock := newMockPostgres(t)

	cols := []string{"id", "name", "country_code", "subnational1_code", "lat", "lng", "num_species_all_time", "latest_obs_dt", "updated_at"}
	mock.ExpectQuery(`SELECT id, name, country_code, .* FROM hotspots\s+WHERE lat >= \$1 AND lat <= \$2 AND lng >= \$3 AND lng <= \$4 AND updated_at > \$5`).
		WithArgs(1.0, 2.0, 3.0, 4.0, int64(1000)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("L1", "Marsh", "SE", nil, 1.5, 3.5, int64(77), nil, int64(2000)))

	box := model.BBox{SW: model.LatLng{Lat: 1, Lng: 3}, NE: model.LatLng{Lat: 2, Lng: 4}}
	got, err := s.InBox(context.Background(), box, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("InBox: %v", err)
	}
	if len(got) != 1 || got[0].ID != "L1" || got[0].SpeciesCount() != 77 || got[0].SubnationalCode != "" {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNew_UnknownDialect(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	if _, err := New(context.Background(), logger.Discard(), sqlx.NewDb(mockDB, "mysql"), "mysql"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
