package coach

import (
	"github.com/park285/baduk-coach/internal/msgcat"
	"github.com/park285/baduk-coach/pkg/coachdto"
)

// Score-loss bands for the verdict label, in points.
const (
	goodLoss       = 1.0
	inaccuracyLoss = 3.0
	mistakeLoss    = 8.0
	blunderWinrate = 0.20
)

type Label string

const (
	LabelBest        Label = "best"
	LabelGood        Label = "good"
	LabelInaccuracy  Label = "inaccuracy"
	LabelMistake     Label = "mistake"
	LabelBlunder     Label = "blunder"
	LabelImprovement Label = "improvement"
	LabelNeutral     Label = "neutral"
)

// Classify grades res by its losses in the user's frame.
func Classify(res *Result) Label {
	m := res.Metrics
	switch {
	case m.Path == PathEmpty:
		return LabelNeutral
	case res.UserMove == m.Debug.BaselineBestMove:
		return LabelBest
	case m.IsImprovement:
		return LabelImprovement
	case m.LossWinrate >= blunderWinrate || m.LossScore > mistakeLoss:
		return LabelBlunder
	case m.LossScore > inaccuracyLoss:
		return LabelMistake
	case m.LossScore > goodLoss:
		return LabelInaccuracy
	default:
		return LabelGood
	}
}

type verdictData struct {
	Move           string
	BestMove       string
	Color          string
	LossScore      float64
	LossWinratePct float64
}

func renderVerdict(cat *msgcat.Catalog, res *Result) coachdto.Verdict {
	label := Classify(res)
	data := verdictData{
		Move:           res.UserMove,
		BestMove:       res.Metrics.Debug.BaselineBestMove,
		Color:          res.UserColor.String(),
		LossScore:      res.Metrics.AbsLossScore,
		LossWinratePct: res.Metrics.AbsLossWinrate * 100,
	}
	return coachdto.Verdict{
		Label: string(label),
		Title: cat.RenderOr("label."+string(label), data, string(label)),
		Text:  cat.RenderOr("verdict."+string(label), data, ""),
	}
}
