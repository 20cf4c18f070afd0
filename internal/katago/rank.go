package katago

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/park285/baduk-coach/internal/baduk"
)

const MaxPVLen = 5

// RankByColor sorts infos by score lead in color's frame, best first. The
// sort is stable so equal scores keep the engine's order. An empty input
// yields a nil best and an empty list.
func RankByColor(infos []MoveInfo, color baduk.Color) (*MoveInfo, []MoveInfo) {
	sorted := make([]MoveInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return baduk.ScoreForColor(sorted[i].Score(), color) > baduk.ScoreForColor(sorted[j].Score(), color)
	})
	if len(sorted) == 0 {
		return nil, sorted
	}
	best := sorted[0]
	return &best, sorted
}

// Normalize converts info into target's frame. order is 1-based.
func Normalize(info MoveInfo, sideToMove, target baduk.Color, order int) Candidate {
	pv := lo.Map(info.PV, func(p string, _ int) string { return strings.ToUpper(strings.TrimSpace(p)) })
	if len(pv) > MaxPVLen {
		pv = pv[:MaxPVLen]
	}
	return Candidate{
		Move:    baduk.NormalizeMove(info.Move),
		Order:   order,
		Prior:   info.PriorValue(),
		Winrate: baduk.WinrateForColor(info.Winrate, sideToMove, target),
		Score:   baduk.ScoreForColor(info.Score(), target),
		PV:      pv,
	}
}

// TopN normalizes the first n entries of sorted.
func TopN(sorted []MoveInfo, n int, sideToMove, target baduk.Color) []Candidate {
	if n > len(sorted) {
		n = len(sorted)
	}
	return lo.Map(sorted[:n], func(m MoveInfo, i int) Candidate {
		return Normalize(m, sideToMove, target, i+1)
	})
}

// FindMove returns the candidate whose coordinate equals move after
// normalization.
func FindMove(infos []MoveInfo, move string) (MoveInfo, bool) {
	want := baduk.NormalizeMove(move)
	return lo.Find(infos, func(m MoveInfo) bool {
		return baduk.NormalizeMove(m.Move) == want
	})
}
