package katago

import (
	"encoding/json"

	"github.com/park285/baduk-coach/internal/baduk"
)

// MoveInfo is one candidate as reported by the engine. Winrate is relative to
// the side to move at the analyzed position; ScoreMean/ScoreLead are
// white-relative.
type MoveInfo struct {
	Move      string   `json:"move"`
	Order     int      `json:"order"`
	Visits    int      `json:"visits"`
	Prior     *float64 `json:"prior,omitempty"`
	Policy    *float64 `json:"policy,omitempty"`
	Winrate   *float64 `json:"winrate,omitempty"`
	ScoreMean *float64 `json:"scoreMean,omitempty"`
	ScoreLead *float64 `json:"scoreLead,omitempty"`
	PV        []string `json:"pv,omitempty"`
}

// Score prefers scoreMean and falls back to scoreLead.
func (m MoveInfo) Score() *float64 {
	if m.ScoreMean != nil {
		return m.ScoreMean
	}
	return m.ScoreLead
}

func (m MoveInfo) PriorValue() float64 {
	if m.Prior != nil {
		return *m.Prior
	}
	if m.Policy != nil {
		return *m.Policy
	}
	return 0
}

// RootInfo is the root-like object; some builds nest candidates and
// ownership inside it.
type RootInfo struct {
	Winrate       *float64   `json:"winrate,omitempty"`
	ScoreLead     *float64   `json:"scoreLead,omitempty"`
	ScoreMean     *float64   `json:"scoreMean,omitempty"`
	Visits        int        `json:"visits,omitempty"`
	CurrentPlayer string     `json:"currentPlayer,omitempty"`
	MoveInfos     []MoveInfo `json:"moveInfos,omitempty"`
	Ownership     []float64  `json:"ownership,omitempty"`
}

// Score prefers scoreLead and falls back to scoreMean.
func (r RootInfo) Score() *float64 {
	if r.ScoreLead != nil {
		return r.ScoreLead
	}
	return r.ScoreMean
}

type TurnInfo struct {
	MoveInfos []MoveInfo `json:"moveInfos,omitempty"`
	Ownership []float64  `json:"ownership,omitempty"`
}

// AnalysisRaw covers every response shape seen across engine builds.
type AnalysisRaw struct {
	ID             string     `json:"id"`
	IsDuringSearch *bool      `json:"isDuringSearch,omitempty"`
	Error          string     `json:"error,omitempty"`
	TurnNumber     int        `json:"turnNumber"`
	RootInfo       *RootInfo  `json:"rootInfo,omitempty"`
	Root           *RootInfo  `json:"root,omitempty"`
	MoveInfos      []MoveInfo `json:"moveInfos,omitempty"`
	Ownership      []float64  `json:"ownership,omitempty"`
	Turns          []TurnInfo `json:"turns,omitempty"`
}

// AnalysisRequest is the outbound query. The correlator adds the id.
type AnalysisRequest struct {
	Rules            string      `json:"rules"`
	Komi             float64     `json:"komi"`
	BoardXSize       int         `json:"boardXSize"`
	BoardYSize       int         `json:"boardYSize"`
	Moves            [][2]string `json:"moves"`
	AnalyzeTurns     []int       `json:"analyzeTurns"`
	MaxVisits        int         `json:"maxVisits,omitempty"`
	IncludeOwnership bool        `json:"includeOwnership"`
	IncludePolicy    bool        `json:"includePolicy"`
}

// Candidate is a move normalized into one color's frame.
type Candidate struct {
	Move    string   `json:"move"`
	Order   int      `json:"order"`
	Prior   float64  `json:"prior"`
	Winrate float64  `json:"winrate"`
	Score   float64  `json:"scoreMean"`
	PV      []string `json:"pv"`
}

// Analysis is one decoded response together with the position it describes.
type Analysis struct {
	ID         string
	SideToMove baduk.Color
	MoveInfos  []MoveInfo
	Ownership  []float64
	Root       RootInfo
	Shape      string
	Raw        json.RawMessage
}

// RootWinrate is the root winrate in target's frame.
func (a *Analysis) RootWinrate(target baduk.Color) float64 {
	return baduk.WinrateForColor(a.Root.Winrate, a.SideToMove, target)
}

// RootScore is the root score lead in color's frame.
func (a *Analysis) RootScore(color baduk.Color) float64 {
	return baduk.ScoreForColor(a.Root.Score(), color)
}
