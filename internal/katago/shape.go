package katago

import (
	"encoding/json"
	"fmt"
)

const (
	ShapeRootInfo = "rootInfo"
	ShapeRoot     = "root"
	ShapeFlat     = "flat"
	ShapeTurns    = "turns"
)

// ShapeAdapter reads candidates, ownership and root values out of one
// response layout.
type ShapeAdapter interface {
	Name() string
	Matches(raw *AnalysisRaw) bool
	Candidates(raw *AnalysisRaw) []MoveInfo
	Ownership(raw *AnalysisRaw) []float64
	Root(raw *AnalysisRaw) RootInfo
}

type rootInfoShape struct{}

func (rootInfoShape) Name() string { return ShapeRootInfo }
func (rootInfoShape) Matches(raw *AnalysisRaw) bool {
	return raw.RootInfo != nil && len(raw.RootInfo.MoveInfos) > 0
}
func (rootInfoShape) Candidates(raw *AnalysisRaw) []MoveInfo {
	if raw.RootInfo == nil {
		return nil
	}
	return raw.RootInfo.MoveInfos
}
func (rootInfoShape) Ownership(raw *AnalysisRaw) []float64 {
	if raw.RootInfo != nil && len(raw.RootInfo.Ownership) > 0 {
		return raw.RootInfo.Ownership
	}
	return raw.Ownership
}
func (rootInfoShape) Root(raw *AnalysisRaw) RootInfo { return rootOf(raw.RootInfo) }

type rootShape struct{}

func (rootShape) Name() string { return ShapeRoot }
func (rootShape) Matches(raw *AnalysisRaw) bool {
	return raw.Root != nil && len(raw.Root.MoveInfos) > 0
}
func (rootShape) Candidates(raw *AnalysisRaw) []MoveInfo {
	if raw.Root == nil {
		return nil
	}
	return raw.Root.MoveInfos
}
func (rootShape) Ownership(raw *AnalysisRaw) []float64 {
	if raw.Root != nil && len(raw.Root.Ownership) > 0 {
		return raw.Root.Ownership
	}
	return raw.Ownership
}
func (rootShape) Root(raw *AnalysisRaw) RootInfo { return rootOf(raw.Root) }

// flatShape is the stock analysis-engine layout: moveInfos and ownership at
// the top level with rootInfo holding only the root values.
type flatShape struct{}

func (flatShape) Name() string                          { return ShapeFlat }
func (flatShape) Matches(raw *AnalysisRaw) bool         { return len(raw.MoveInfos) > 0 }
func (flatShape) Candidates(raw *AnalysisRaw) []MoveInfo { return raw.MoveInfos }
func (flatShape) Ownership(raw *AnalysisRaw) []float64  { return raw.Ownership }
func (flatShape) Root(raw *AnalysisRaw) RootInfo {
	if raw.RootInfo != nil {
		return rootOf(raw.RootInfo)
	}
	return rootOf(raw.Root)
}

type turnsShape struct{}

func (turnsShape) Name() string { return ShapeTurns }
func (turnsShape) Matches(raw *AnalysisRaw) bool {
	return len(raw.Turns) > 0 && (len(raw.Turns[0].MoveInfos) > 0 || len(raw.Turns[0].Ownership) > 0)
}
func (turnsShape) Candidates(raw *AnalysisRaw) []MoveInfo {
	if len(raw.Turns) == 0 {
		return nil
	}
	return raw.Turns[0].MoveInfos
}
func (turnsShape) Ownership(raw *AnalysisRaw) []float64 {
	if len(raw.Turns) == 0 {
		return nil
	}
	return raw.Turns[0].Ownership
}
func (turnsShape) Root(raw *AnalysisRaw) RootInfo {
	if raw.RootInfo != nil {
		return rootOf(raw.RootInfo)
	}
	return rootOf(raw.Root)
}

var shapes = []ShapeAdapter{rootInfoShape{}, rootShape{}, flatShape{}, turnsShape{}}

// ShapeByName returns the adapter registered under name.
func ShapeByName(name string) (ShapeAdapter, error) {
	for _, s := range shapes {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown response shape %q", name)
}

// ProbeShape picks the first adapter, in fixed priority order, whose layout
// matches raw. It returns nil when no candidate list is present anywhere.
func ProbeShape(raw *AnalysisRaw) ShapeAdapter {
	if raw == nil {
		return nil
	}
	for _, s := range shapes {
		if s.Matches(raw) {
			return s
		}
	}
	return nil
}

// ExtractCandidates probes every known shape; an unrecognised layout yields
// an empty list.
func ExtractCandidates(raw *AnalysisRaw) []MoveInfo {
	if s := ProbeShape(raw); s != nil {
		return s.Candidates(raw)
	}
	return []MoveInfo{}
}

// ExtractOwnership probes rootInfo, root, top level and turns[0] in that order.
func ExtractOwnership(raw *AnalysisRaw) []float64 {
	if raw == nil {
		return []float64{}
	}
	switch {
	case raw.RootInfo != nil && len(raw.RootInfo.Ownership) > 0:
		return raw.RootInfo.Ownership
	case raw.Root != nil && len(raw.Root.Ownership) > 0:
		return raw.Root.Ownership
	case len(raw.Ownership) > 0:
		return raw.Ownership
	case len(raw.Turns) > 0 && len(raw.Turns[0].Ownership) > 0:
		return raw.Turns[0].Ownership
	}
	return []float64{}
}

func ExtractRoot(raw *AnalysisRaw) RootInfo {
	if raw == nil {
		return RootInfo{}
	}
	if raw.RootInfo != nil {
		return rootOf(raw.RootInfo)
	}
	return rootOf(raw.Root)
}

// DecodeRaw parses a final response line.
func DecodeRaw(b []byte) (*AnalysisRaw, error) {
	var raw AnalysisRaw
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &raw, nil
}

func rootOf(r *RootInfo) RootInfo {
	if r == nil {
		return RootInfo{}
	}
	return RootInfo{
		Winrate:       r.Winrate,
		ScoreLead:     r.ScoreLead,
		ScoreMean:     r.ScoreMean,
		Visits:        r.Visits,
		CurrentPlayer: r.CurrentPlayer,
	}
}
