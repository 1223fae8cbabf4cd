package sqlstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

type dialect struct {
	name   string
	bind   int
	schema []string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		bind:   sqlx.QUESTION,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS hotspots (
				id                   TEXT PRIMARY KEY,
				name                 TEXT NOT NULL,
				country_code         TEXT NOT NULL,
				subnational1_code    TEXT,
				lat                  REAL NOT NULL,
				lng                  REAL NOT NULL,
				num_species_all_time INTEGER,
				latest_obs_dt        TEXT,
				updated_at           INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_hotspots_lat_lng ON hotspots(lat, lng)`,
		},
	},
	"postgres": {
		name:   "postgres",
		bind:   sqlx.DOLLAR,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS hotspots (
				id                   TEXT PRIMARY KEY,
				name                 TEXT NOT NULL,
				country_code         TEXT NOT NULL,
				subnational1_code    TEXT,
				lat                  DOUBLE PRECISION NOT NULL,
				lng                  DOUBLE PRECISION NOT NULL,
				num_species_all_time INTEGER,
				latest_obs_dt        TEXT,
				updated_at           BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_hotspots_lat_lng ON hotspots(lat, lng)`,
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
	return d, nil
}

// queries are written with ? placeholders and rebound per driver
func (d dialect) rebind(q string) string {
	return sqlx.Rebind(d.bind, q)
}

const (
	qInBox = `SELECT id, name, country_code, subnational1_code, lat, lng,
		num_species_all_time, latest_obs_dt, updated_at
		FROM hotspots
		WHERE lat >= ? AND lat <= ? AND lng >= ? AND lng <= ? AND updated_at > ?`

	qUpsert = `INSERT INTO hotspots (id, name, country_code, subnational1_code, lat, lng,
		num_species_all_time, latest_obs_dt, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			country_code = excluded.country_code,
			subnational1_code = excluded.subnational1_code,
			lat = excluded.lat,
			lng = excluded.lng,
			num_species_all_time = excluded.num_species_all_time,
			latest_obs_dt = excluded.latest_obs_dt,
			updated_at = excluded.updated_at`

	qClear = `DELETE FROM hotspots`
)
