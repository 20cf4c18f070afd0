package baduk

import (
	"math"

	"github.com/samber/lo"
)

const (
	NeutralWinrate = 0.5
	NeutralScore   = 0.0
)

// WinrateForColor converts a side-to-move winrate into target's frame.
// A nil or NaN input is treated as unknown and yields 0.5. The result is
// always within [0,1].
func WinrateForColor(winrateSideToMove *float64, sideToMove, target Color) float64 {
	w := NeutralWinrate
	if winrateSideToMove != nil && !math.IsNaN(*winrateSideToMove) {
		w = lo.Clamp(*winrateSideToMove, 0, 1)
	}
	if sideToMove != target {
		w = 1 - w
	}
	return lo.Clamp(w, 0, 1)
}

// ScoreForColor converts a white-relative score lead into color's frame.
// A nil or NaN input yields 0.
func ScoreForColor(whiteLead *float64, color Color) float64 {
	if whiteLead == nil || math.IsNaN(*whiteLead) {
		return NeutralScore
	}
	if color == White {
		return *whiteLead
	}
	return -*whiteLead
}

// Float returns a pointer to v, for building optional engine values.
func Float(v float64) *float64 {
	return &v
}
