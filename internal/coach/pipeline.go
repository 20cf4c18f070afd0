package coach

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/baduk"
	"github.com/park285/baduk-coach/internal/katago"
	"github.com/park285/baduk-coach/internal/session"
)

const topCandidates = 3

var ErrInvalidMove = errors.New("invalid move")

// Analyzer runs one analysis of the position after moves.
type Analyzer interface {
	Analyze(ctx context.Context, moves []baduk.Move) (*katago.Analysis, error)
}

type Stage int

const (
	StageIdle Stage = iota
	StageBaselineRequested
	StageUserMoveMatched
	StageUserMoveMissed
	StageBotRequested
	StageFollowUpRequested
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageBaselineRequested:
		return "baseline"
	case StageUserMoveMatched:
		return "user-move-matched"
	case StageUserMoveMissed:
		return "user-move-missed"
	case StageBotRequested:
		return "bot-response"
	case StageFollowUpRequested:
		return "follow-up"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports which step of an evaluation failed. Moves committed
// before that step stay in the session.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("evaluation failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Path tells how the user's move was valued.
type Path string

const (
	PathHit   Path = "HIT"
	PathMiss  Path = "MISS"
	PathEmpty Path = "EMPTY"
)

// Debug keeps the raw frames behind the metrics.
type Debug struct {
	SideToMoveBaseline     baduk.Color
	WinrateSTMBaseline     float64
	WinrateUserBaseline    float64
	SideToMoveAfterUser    baduk.Color
	WinrateSTMAfterUser    float64
	WinrateUserAfter       float64
	BaselineBestMove       string
	BaselineBestWinrate    float64
	BaselineBestScore      float64
	BaselineCandidateCount int
}

// Metrics are in the user's frame. Positive losses mean the user's move was
// worse than the engine's best.
type Metrics struct {
	BestWinrateBefore float64
	UserWinrate       float64
	LossWinrate       float64
	BestScoreBefore   float64
	UserScore         float64
	LossScore         float64
	AbsLossWinrate    float64
	AbsLossScore      float64
	IsImprovement     bool
	Path              Path
	Debug             Debug
}

type Result struct {
	UserColor       baduk.Color
	BotColor        baduk.Color
	UserMove        string
	BotMove         string
	BotCandidates   []katago.Candidate
	Recommendations []katago.Candidate
	Metrics         Metrics
	Ownership       []float64
	Moves           []baduk.Move
	EngineCalls     int
}

// Pipeline grades one user move against the engine and plays the reply.
type Pipeline struct {
	analyzer  Analyzer
	boardSize int
	logger    *zap.Logger
}

func NewPipeline(analyzer Analyzer, boardSize int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if boardSize <= 0 {
		boardSize = katago.DefaultBoardSize
	}
	return &Pipeline{analyzer: analyzer, boardSize: boardSize, logger: logger}
}

// ValidateMove normalizes move or returns an error wrapping ErrInvalidMove.
func (p *Pipeline) ValidateMove(move string) (string, error) {
	coord, err := baduk.ValidateMove(move, p.boardSize)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMove, err)
	}
	return coord, nil
}

// run is the state of one evaluation.
type run struct {
	p     *Pipeline
	sess  *session.Session
	stage Stage
	calls int
}

func (r *run) analyze(ctx context.Context, moves []baduk.Move) (*katago.Analysis, error) {
	r.calls++
	a, err := r.p.analyzer.Analyze(ctx, moves)
	if err != nil {
		return nil, &StageError{Stage: r.stage, Err: err}
	}
	return a, nil
}

func (r *run) commit(color baduk.Color, move string) error {
	if err := r.sess.Append(color, move); err != nil {
		return &StageError{Stage: r.stage, Err: err}
	}
	return nil
}

// Evaluate runs baseline, match, commit, bot reply, commit and follow-up in
// order. The caller must hold the session's lock. On error the session keeps
// whatever was committed before the failing step.
func (p *Pipeline) Evaluate(ctx context.Context, sess *session.Session, move string) (*Result, error) {
	coord, err := p.ValidateMove(move)
	if err != nil {
		return nil, err
	}

	r := &run{p: p, sess: sess, stage: StageBaselineRequested}
	userColor := sess.NextColor()
	botColor := userColor.Opponent()
	res := &Result{UserColor: userColor, BotColor: botColor, UserMove: coord}
	m := &res.Metrics

	base, err := r.analyze(ctx, sess.Moves())
	if err != nil {
		return nil, err
	}
	best, _ := katago.RankByColor(base.MoveInfos, userColor)
	m.Debug.SideToMoveBaseline = base.SideToMove
	m.Debug.BaselineCandidateCount = len(base.MoveInfos)

	switch {
	case best == nil:
		m.Path = PathEmpty
		m.BestWinrateBefore = baduk.NeutralWinrate
		m.UserWinrate = baduk.NeutralWinrate
		m.BestScoreBefore = baduk.NeutralScore
		m.UserScore = baduk.NeutralScore
		m.Debug.WinrateSTMBaseline = baduk.NeutralWinrate
		m.Debug.WinrateUserBaseline = baduk.NeutralWinrate
		m.Debug.SideToMoveAfterUser = botColor
		m.Debug.WinrateSTMAfterUser = baduk.NeutralWinrate
		m.Debug.WinrateUserAfter = baduk.NeutralWinrate

	default:
		m.Debug.BaselineBestMove = baduk.NormalizeMove(best.Move)
		m.Debug.WinrateSTMBaseline = baduk.WinrateForColor(best.Winrate, base.SideToMove, base.SideToMove)
		m.BestWinrateBefore = baduk.WinrateForColor(best.Winrate, base.SideToMove, userColor)
		m.BestScoreBefore = baduk.ScoreForColor(best.Score(), userColor)
		m.Debug.WinrateUserBaseline = m.BestWinrateBefore
		m.Debug.BaselineBestWinrate = m.BestWinrateBefore
		m.Debug.BaselineBestScore = m.BestScoreBefore

		if hit, ok := katago.FindMove(base.MoveInfos, coord); ok {
			r.stage = StageUserMoveMatched
			m.Path = PathHit
			m.UserWinrate = baduk.WinrateForColor(hit.Winrate, base.SideToMove, userColor)
			m.UserScore = baduk.ScoreForColor(hit.Score(), userColor)
			m.Debug.SideToMoveAfterUser = botColor
			m.Debug.WinrateSTMAfterUser = baduk.WinrateForColor(hit.Winrate, base.SideToMove, botColor)
			m.Debug.WinrateUserAfter = m.UserWinrate
			break
		}

		r.stage = StageUserMoveMissed
		m.Path = PathMiss
		before := sess.Moves()
		bestChild, err := r.analyze(ctx, append(baduk.CloneMoves(before), baduk.Move{Color: userColor, Coord: m.Debug.BaselineBestMove}))
		if err != nil {
			return nil, err
		}
		userChild, err := r.analyze(ctx, append(baduk.CloneMoves(before), baduk.Move{Color: userColor, Coord: coord}))
		if err != nil {
			return nil, err
		}
		// Both sides of the diff are child root values.
		m.BestWinrateBefore = bestChild.RootWinrate(userColor)
		m.BestScoreBefore = bestChild.RootScore(userColor)
		m.UserWinrate = userChild.RootWinrate(userColor)
		m.UserScore = userChild.RootScore(userColor)
		m.Debug.SideToMoveAfterUser = userChild.SideToMove
		m.Debug.WinrateSTMAfterUser = userChild.RootWinrate(userChild.SideToMove)
		m.Debug.WinrateUserAfter = m.UserWinrate
	}

	if err := r.commit(userColor, coord); err != nil {
		return nil, err
	}

	r.stage = StageBotRequested
	botAn, err := r.analyze(ctx, sess.Moves())
	if err != nil {
		return nil, err
	}
	_, botSorted := katago.RankByColor(botAn.MoveInfos, botColor)
	res.BotMove = baduk.PassMove
	if len(botSorted) > 0 {
		if mv := baduk.NormalizeMove(botSorted[0].Move); mv != "" {
			res.BotMove = mv
		}
	}
	res.BotCandidates = katago.TopN(botSorted, topCandidates, botAn.SideToMove, botColor)
	if err := r.commit(botColor, res.BotMove); err != nil {
		return nil, err
	}

	r.stage = StageFollowUpRequested
	follow, err := r.analyze(ctx, sess.Moves())
	if err != nil {
		return nil, err
	}
	_, userSorted := katago.RankByColor(follow.MoveInfos, userColor)
	res.Recommendations = katago.TopN(userSorted, topCandidates, follow.SideToMove, userColor)
	res.Ownership = follow.Ownership
	if res.Ownership == nil {
		res.Ownership = []float64{}
	}

	r.stage = StageDone
	m.LossWinrate = m.BestWinrateBefore - m.UserWinrate
	m.LossScore = m.BestScoreBefore - m.UserScore
	m.AbsLossWinrate = math.Abs(m.LossWinrate)
	m.AbsLossScore = math.Abs(m.LossScore)
	m.IsImprovement = m.LossScore < 0
	res.Moves = sess.Moves()
	res.EngineCalls = r.calls

	p.logger.Debug("move evaluated",
		zap.String("path", string(m.Path)),
		zap.String("user_move", coord),
		zap.String("bot_move", res.BotMove),
		zap.Float64("loss_winrate", m.LossWinrate),
		zap.Float64("loss_score", m.LossScore),
		zap.Int("engine_calls", r.calls),
	)
	return res, nil
}
