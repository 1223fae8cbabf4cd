// Package mapper converts between geographic coordinates and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
)

type Interface interface {
	CellForPoint(p model.LatLng, res int) (string, error)
	CoverBBox(bb model.BBox, res int) (model.Cells, error)
	ToParent(cell string, parentRes int) (string, error)
}
