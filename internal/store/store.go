// Package store defines the local hotspot store used by the cache-aside repository.
package store

import (
	"context"
	"time"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
)

// Store persists hotspots keyed by ID. Upsert replaces the full record so a re-upsert
// never produces duplicates.
type Store interface {
	// InBox returns records inside box (inclusive) whose UpdatedAt is after freshAfter.
	InBox(ctx context.Context, box model.BBox, freshAfter time.Time) ([]model.Hotspot, error)
	Upsert(ctx context.Context, hs []model.Hotspot) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
