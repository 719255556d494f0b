// Package tensor holds the 2-D text tensor exchanged between the wire layer and
// the batch handler. Cells are stored row-major: row 0 left to right, then row 1,
// and so on. Every helper in this package walks cells in that order.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	ErrShape    = errors.New("tensor: invalid shape")
	ErrCount    = errors.New("tensor: cell count does not match shape")
	ErrRagged   = errors.New("tensor: rows have different lengths")
	ErrEncoding = errors.New("tensor: cell is not valid UTF-8")
)

// Shape is the (rows, cols) extent of a text tensor.
type Shape struct {
	Rows int
	Cols int
}

// Len returns rows * cols.
func (s Shape) Len() int { return s.Rows * s.Cols }

func (s Shape) String() string { return fmt.Sprintf("(%d,%d)", s.Rows, s.Cols) }

// valid reports non-negative dims whose product fits in an int.
func (s Shape) valid() bool {
	if s.Rows < 0 || s.Cols < 0 {
		return false
	}
	return s.Cols == 0 || s.Rows <= math.MaxInt/s.Cols
}

// Index maps a (row, col) coordinate to its row-major position.
func (s Shape) Index(r, c int) int { return r*s.Cols + c }

// Coord maps a row-major position back to (row, col).
func (s Shape) Coord(i int) (int, int) {
	if s.Cols == 0 {
		return 0, 0
	}
	return i / s.Cols, i % s.Cols
}

// Text is an immutable 2-D tensor of strings.
type Text struct {
	shape Shape
	cells []string
}

// New builds a tensor from row-major cells. The slice is copied. Every cell
// must be valid UTF-8.
func New(shape Shape, cells []string) (Text, error) {
	if !shape.valid() {
		return Text{}, fmt.Errorf("%w: %s", ErrShape, shape)
	}
	if len(cells) != shape.Len() {
		return Text{}, fmt.Errorf("%w: shape %s wants %d cells, got %d", ErrCount, shape, shape.Len(), len(cells))
	}
	for i, c := range cells {
		if !utf8.ValidString(c) {
			r, col := shape.Coord(i)
			return Text{}, fmt.Errorf("%w: cell (%d,%d)", ErrEncoding, r, col)
		}
	}
	return Text{shape: shape, cells: append([]string(nil), cells...)}, nil
}

// FromRows builds a tensor from nested rows. All rows must share one length.
func FromRows(rows [][]string) (Text, error) {
	shape := Shape{Rows: len(rows)}
	if len(rows) > 0 {
		shape.Cols = len(rows[0])
	}
	cells := make([]string, 0, shape.Len())
	for i, row := range rows {
		if len(row) != shape.Cols {
			return Text{}, fmt.Errorf("%w: row %d has %d cells, row 0 has %d", ErrRagged, i, len(row), shape.Cols)
		}
		cells = append(cells, row...)
	}
	return Text{shape: shape, cells: cells}, nil
}

// Reshape is the inverse of Flatten.
func Reshape(flat []string, shape Shape) (Text, error) { return New(shape, flat) }

func (t Text) Shape() Shape { return t.shape }

func (t Text) Len() int { return len(t.cells) }

// At returns the cell at (r, c). It panics on out-of-range coordinates, like a slice.
func (t Text) At(r, c int) string {
	if r < 0 || r >= t.shape.Rows || c < 0 || c >= t.shape.Cols {
		panic(fmt.Sprintf("tensor: index (%d,%d) out of range %s", r, c, t.shape))
	}
	return t.cells[t.shape.Index(r, c)]
}

// Flatten returns a copy of the cells in row-major order.
func (t Text) Flatten() []string { return append([]string(nil), t.cells...) }

// Rows returns the cells nested by row.
func (t Text) Rows() [][]string {
	out := make([][]string, t.shape.Rows)
	for r := range out {
		start := t.shape.Index(r, 0)
		out[r] = append([]string(nil), t.cells[start:start+t.shape.Cols]...)
	}
	return out
}

// Each visits cells in row-major order until fn returns false.
func (t Text) Each(fn func(i, r, c int, cell string) bool) {
	for i, cell := range t.cells {
		r, c := t.shape.Coord(i)
		if !fn(i, r, c, cell) {
			return
		}
	}
}

// Map applies fn to every cell in row-major order and returns a tensor of the
// same shape. The first error stops the walk and is returned with the cell
// coordinate attached.
func (t Text) Map(fn func(i int, cell string) (string, error)) (Text, error) {
	out := make([]string, len(t.cells))
	var err error
	t.Each(func(i, r, c int, cell string) bool {
		var v string
		if v, err = fn(i, cell); err != nil {
			err = fmt.Errorf("cell (%d,%d): %w", r, c, err)
			return false
		}
		out[i] = v
		return true
	})
	if err != nil {
		return Text{}, err
	}
	return Text{shape: t.shape, cells: out}, nil
}
