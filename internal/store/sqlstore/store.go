// Package sqlstore keeps hotspots in a SQL table, on SQLite by default or on Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
)

type Store struct {
	db      *sqlx.DB
	dialect dialect
	logger  *slog.Logger
}

type row struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	CountryCode       string         `db:"country_code"`
	SubnationalCode   sql.NullString `db:"subnational1_code"`
	Lat               float64        `db:"lat"`
	Lng               float64        `db:"lng"`
	NumSpeciesAllTime sql.NullInt64  `db:"num_species_all_time"`
	LatestObsDt       sql.NullString `db:"latest_obs_dt"`
	UpdatedAt         int64          `db:"updated_at"`
}

// OpenSQLite opens (creating if needed) the database file at path and applies the schema.
func OpenSQLite(ctx context.Context, logger *slog.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	return New(ctx, logger, db, "sqlite")
}

func OpenPostgres(ctx context.Context, logger *slog.Logger, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(ctx, logger, db, "postgres")
}

// New wraps an open handle and ensures the schema exists.
func New(ctx context.Context, logger *slog.Logger, db *sqlx.DB, dialectName string) (*Store, error) {
	d, err := lookupDialect(dialectName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, dialect: d, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *Store) InBox(ctx context.Context, box model.BBox, freshAfter time.Time) ([]model.Hotspot, error) {
	start := time.Now()
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.dialect.rebind(qInBox),
		box.SW.Lat, box.NE.Lat, box.SW.Lng, box.NE.Lng, freshAfter.UnixMilli())
	observability.ObserveStoreOp("in_box", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("select hotspots in %s: %w", box, err)
	}

	out := make([]model.Hotspot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, hs []model.Hotspot) (err error) {
	if len(hs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observability.ObserveStoreOp("upsert", err, time.Since(start).Seconds()) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("upsert rollback failed", "err", rbErr)
			}
		}
	}()

	q := s.dialect.rebind(qUpsert)
	for _, h := range hs {
		r := fromModel(h)
		if _, err = tx.ExecContext(ctx, q,
			r.ID, r.Name, r.CountryCode, r.SubnationalCode, r.Lat, r.Lng,
			r.NumSpeciesAllTime, r.LatestObsDt, r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert hotspot %q: %w", h.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert of %d hotspots: %w", len(hs), err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, qClear)
	observability.ObserveStoreOp("clear", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("clear hotspots: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Info("hotspot store cleared", "rows", n)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.dialect.name, err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.dialect.name, err)
	}
	return nil
}

func (r row) toModel() model.Hotspot {
	h := model.Hotspot{
		ID:          r.ID,
		Name:        r.Name,
		CountryCode: r.CountryCode,
		Lat:         r.Lat,
		Lng:         r.Lng,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.SubnationalCode.Valid {
		h.SubnationalCode = r.SubnationalCode.String
	}
	if r.LatestObsDt.Valid {
		h.LatestObsDt = r.LatestObsDt.String
	}
	if r.NumSpeciesAllTime.Valid {
		n := int(r.NumSpeciesAllTime.Int64)
		h.NumSpeciesAllTime = &n
	}
	return h
}

func fromModel(h model.Hotspot) row {
	r := row{
		ID:              h.ID,
		Name:            h.Name,
		CountryCode:     h.CountryCode,
		SubnationalCode: sql.NullString{String: h.SubnationalCode, Valid: h.SubnationalCode != ""},
		Lat:             h.Lat,
		Lng:             h.Lng,
		LatestObsDt:     sql.NullString{String: h.LatestObsDt, Valid: h.LatestObsDt != ""},
		UpdatedAt:       h.UpdatedAt,
	}
	if h.NumSpeciesAllTime != nil {
		r.NumSpeciesAllTime = sql.NullInt64{Int64: int64(*h.NumSpeciesAllTime), Valid: true}
	}
	return r
}
