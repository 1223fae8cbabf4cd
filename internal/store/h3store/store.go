// Package h3store keeps hotspots in Redis, indexed by H3 cell at several resolutions.
package h3store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/mapper"
	"github.com/mohammed-shakir/hotspot-cache/internal/store/redisstore"
)

const (
	keyPrefix = "hs:"
	recPrefix = keyPrefix + "rec:"
)

type Config struct {
	// Resolutions to index, coarsest first.
	Resolutions   []int
	MaxCoverCells int
}

type Store struct {
	cli    *redisstore.Client
	mapper mapper.Interface
	cfg    Config
	logger *slog.Logger
}

func New(cli *redisstore.Client, m mapper.Interface, cfg Config, logger *slog.Logger) (*Store, error) {
	if len(cfg.Resolutions) == 0 {
		return nil, fmt.Errorf("h3store: at least one resolution is required")
	}
	for i := 1; i < len(cfg.Resolutions); i++ {
		if cfg.Resolutions[i] <= cfg.Resolutions[i-1] {
			return nil, fmt.Errorf("h3store: resolutions must be ascending, got %v", cfg.Resolutions)
		}
	}
	if cfg.MaxCoverCells <= 0 {
		cfg.MaxCoverCells = 4096
	}
	return &Store{cli: cli, mapper: m, cfg: cfg, logger: logger}, nil
}

func recordKey(id string) string { return recPrefix + id }

func cellKey(res int, cell string) string {
	return keyPrefix + "cell:" + strconv.Itoa(res) + ":" + cell
}

func (s *Store) Upsert(ctx context.Context, hs []model.Hotspot) error {
	if len(hs) == 0 {
		return nil
	}
	finest := s.cfg.Resolutions[len(s.cfg.Resolutions)-1]

	ws := make([]redisstore.Write, 0, len(hs))
	for _, h := range hs {
		payload, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode hotspot %q: %w", h.ID, err)
		}
		leaf, err := s.mapper.CellForPoint(h.Location(), finest)
		if err != nil {
			return fmt.Errorf("index hotspot %q: %w", h.ID, err)
		}
		sets := make([]string, 0, len(s.cfg.Resolutions))
		for _, r := range s.cfg.Resolutions {
			c, err := s.mapper.ToParent(leaf, r)
			if err != nil {
				return fmt.Errorf("index hotspot %q at res %d: %w", h.ID, r, err)
			}
			sets = append(sets, cellKey(r, c))
		}
		ws = append(ws, redisstore.Write{Key: recordKey(h.ID), Value: payload, Member: h.ID, SetKeys: sets})
	}
	return s.cli.WriteIndexed(ctx, ws)
}

// InBox unions the id sets of the cells covering box, then filters the loaded records
// exactly. A record moved between upserts may leave a stale membership behind; the exact
// filter drops it.
func (s *Store) InBox(ctx context.Context, box model.BBox, freshAfter time.Time) ([]model.Hotspot, error) {
	res, cells, err := s.cover(box)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = cellKey(res, c)
	}

	ids, err := s.cli.SUnion(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	recKeys := make([]string, len(ids))
	for i, id := range ids {
		recKeys[i] = recordKey(id)
	}
	raw, err := s.cli.MGet(ctx, recKeys)
	if err != nil {
		return nil, err
	}

	cutoff := freshAfter.UnixMilli()
	out := make([]model.Hotspot, 0, len(raw))
	for _, k := range recKeys {
		b, ok := raw[k]
		if !ok {
			continue
		}
		var h model.Hotspot
		if err := json.Unmarshal(b, &h); err != nil {
			s.logger.Warn("skip undecodable hotspot record", "key", k, "err", err)
			continue
		}
		if h.UpdatedAt > cutoff && box.Contains(h.Location()) {
			out = append(out, h)
		}
	}
	return out, nil
}

// cover picks the finest resolution whose cover fits MaxCoverCells, falling back to
// the coarsest one.
func (s *Store) cover(box model.BBox) (int, model.Cells, error) {
	var (
		bestRes   = -1
		bestCells model.Cells
	)
	for _, r := range s.cfg.Resolutions {
		cells, err := s.mapper.CoverBBox(box, r)
		if err != nil {
			return 0, nil, fmt.Errorf("cover %s at res %d: %w", box, r, err)
		}
		if bestRes >= 0 && len(cells) > s.cfg.MaxCoverCells {
			break
		}
		bestRes, bestCells = r, cells
		if len(cells) > s.cfg.MaxCoverCells {
			break
		}
	}
	return bestRes, bestCells, nil
}

func (s *Store) Clear(ctx context.Context) error {
	n, err := s.cli.DeleteMatching(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("clear h3 store: %w", err)
	}
	s.logger.Info("hotspot store cleared", "keys", n)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx) }

func (s *Store) Close() error { return s.cli.Close() }
