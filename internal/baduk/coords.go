package baduk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PassMove is the sentinel coordinate for a pass.
const PassMove = "PASS"

// columns skips "I" as in GTP/KGS notation.
const columns = "ABCDEFGHJKLMNOPQRSTUVWXYZ"

const (
	MinBoardSize = 2
	MaxBoardSize = 25
)

var ErrInvalidCoord = errors.New("invalid board coordinate")

// NormalizeMove trims and upper-cases a coordinate; every spelling of pass
// collapses to PassMove.
func NormalizeMove(s string) string {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "PASS" || v == "TT" {
		return PassMove
	}
	return v
}

func IsPass(s string) bool {
	return NormalizeMove(s) == PassMove
}

// CoordToXY converts "D4" to zero-based (x, y) with (0,0) at the top-left.
func CoordToXY(coord string, size int) (int, int, error) {
	if size < MinBoardSize || size > MaxBoardSize {
		return 0, 0, fmt.Errorf("board size %d out of range %d-%d", size, MinBoardSize, MaxBoardSize)
	}
	c := NormalizeMove(coord)
	if len(c) < 2 || c == PassMove {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoord, coord)
	}
	x := strings.IndexByte(columns[:size], c[0])
	if x < 0 {
		return 0, 0, fmt.Errorf("%w: column in %q", ErrInvalidCoord, coord)
	}
	row, err := strconv.Atoi(c[1:])
	if err != nil || row < 1 || row > size {
		return 0, 0, fmt.Errorf("%w: row in %q", ErrInvalidCoord, coord)
	}
	return x, size - row, nil
}

func XYToCoord(x, y, size int) (string, error) {
	if size < MinBoardSize || size > MaxBoardSize {
		return "", fmt.Errorf("board size %d out of range %d-%d", size, MinBoardSize, MaxBoardSize)
	}
	if x < 0 || x >= size || y < 0 || y >= size {
		return "", fmt.Errorf("%w: (%d,%d) on %dx%d", ErrInvalidCoord, x, y, size, size)
	}
	return fmt.Sprintf("%c%d", columns[x], size-y), nil
}

// ValidateMove accepts pass or an on-board coordinate and returns its
// canonical form ("d04" becomes "D4").
func ValidateMove(s string, size int) (string, error) {
	m := NormalizeMove(s)
	if m == "" {
		return "", fmt.Errorf("%w: empty move", ErrInvalidCoord)
	}
	if m == PassMove {
		return m, nil
	}
	x, y, err := CoordToXY(m, size)
	if err != nil {
		return "", err
	}
	return XYToCoord(x, y, size)
}
