package spatial

import (
	"fmt"
	"math"
)

// CellKey identifies one grid cell. Keys compare by value, so any two
// coordinates that floor to the same cell produce equal keys, and distinct
// cells never collide.
type CellKey struct {
	X, Y int
}

// EncodeKey builds the bucket key for cell (cx, cy).
func EncodeKey(cx, cy int) CellKey {
	return CellKey{X: cx, Y: cy}
}

func (k CellKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.X, k.Y)
}

// CellCoord maps a point to the cell containing it for the given cell size.
func CellCoord(x, y, cellSize float64) (CellKey, error) {
	if err := validateCellSize(cellSize); err != nil {
		return CellKey{}, err
	}
	return CellKey{X: floorCell(x, cellSize), Y: floorCell(y, cellSize)}, nil
}

// maxCell bounds cell coordinates so that flooring huge (but finite)
// coordinates never overflows int. Boxes past ±maxCell*cellSize share the
// outermost cells.
const maxCell = 1 << 30

// floorCell is floor(v/cellSize) clamped to [-maxCell, maxCell].
func floorCell(v, cellSize float64) int {
	c := math.Floor(v / cellSize)
	switch {
	case c > maxCell:
		return maxCell
	case c < -maxCell:
		return -maxCell
	}
	return int(c)
}

func validateCellSize(cellSize float64) error {
	if !finite(cellSize) || cellSize <= 0 {
		return fmt.Errorf("%w: cell size %v must be positive", ErrInvalidConfiguration, cellSize)
	}
	return nil
}

// CellRange is an inclusive rectangle of cells: XStart..XEnd, YStart..YEnd.
type CellRange struct {
	XStart, YStart int
	XEnd, YEnd     int
}

// Cells returns how many cells the range covers.
func (r CellRange) Cells() int {
	if r.XEnd < r.XStart || r.YEnd < r.YStart {
		return 0
	}
	return (r.XEnd - r.XStart + 1) * (r.YEnd - r.YStart + 1)
}

// Contains reports whether k lies inside the range.
func (r CellRange) Contains(k CellKey) bool {
	return k.X >= r.XStart && k.X <= r.XEnd && k.Y >= r.YStart && k.Y <= r.YEnd
}

// Each calls fn for every cell in row-major order (y outer, x inner) and
// stops as soon as fn returns false.
func (r CellRange) Each(fn func(CellKey) bool) {
	for y := r.YStart; y <= r.YEnd; y++ {
		for x := r.XStart; x <= r.XEnd; x++ {
			if !fn(CellKey{X: x, Y: y}) {
				return
			}
		}
	}
}

func (r CellRange) String() string {
	return fmt.Sprintf("[%d..%d]x[%d..%d]", r.XStart, r.XEnd, r.YStart, r.YEnd)
}
