package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/baduk"
	"github.com/park285/baduk-coach/internal/katago"
	"github.com/park285/baduk-coach/internal/katago/proc"
	"github.com/park285/baduk-coach/internal/msgcat"
	"github.com/park285/baduk-coach/internal/review"
	"github.com/park285/baduk-coach/internal/session"
	"github.com/park285/baduk-coach/pkg/coachdto"
)

// Engine is the engine surface the service drives. *katago.Engine
// satisfies it.
type Engine interface {
	Analyzer
	Warmup(ctx context.Context) error
	Shutdown() error
	ApplyConfigAndRestart(ctx context.Context, rc katago.RuntimeConfig) error
	Config() (katago.RuntimeConfig, katago.Effective)
	State() proc.State
	ResponseShape() string
}

type Service struct {
	engine   Engine
	sessions *session.Registry
	pipeline *Pipeline
	catalog  *msgcat.Catalog
	reviews  review.Repository
	logger   *zap.Logger
}

func NewService(engine Engine, sessions *session.Registry, catalog *msgcat.Catalog, reviews review.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	rc, _ := engine.Config()
	return &Service{
		engine:   engine,
		sessions: sessions,
		pipeline: NewPipeline(engine, rc.BoardSize, logger.Named("pipeline")),
		catalog:  catalog,
		reviews:  reviews,
		logger:   logger,
	}
}

// Start warms the engine up and clears the default session.
func (s *Service) Start(ctx context.Context) error {
	if err := s.engine.Warmup(ctx); err != nil {
		s.logger.Error("engine warmup failed", zap.Error(err))
		return mapError(err)
	}
	return s.Reset(ctx)
}

func (s *Service) Reset(ctx context.Context) error {
	unlock, err := s.lockDefault(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.sessions.Default().Reset()
	return nil
}

// lockDefault holds the default session lock, giving up when ctx ends first.
func (s *Service) lockDefault(ctx context.Context) (func(), error) {
	mu, err := s.sessions.Lock(session.DefaultID)
	if err != nil {
		return nil, mapError(err)
	}
	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return mu.Unlock, nil
	case <-ctx.Done():
		// release once the pending Lock lands
		go func() {
			<-done
			mu.Unlock()
		}()
		return nil, mapError(ctx.Err())
	}
}

// Submit grades move for the side to move, plays the engine's reply and
// returns the evaluation. Invalid moves fail before any engine call.
func (s *Service) Submit(ctx context.Context, move string) (*coachdto.Evaluation, error) {
	if _, err := s.pipeline.ValidateMove(move); err != nil {
		return nil, mapError(err)
	}
	unlock, err := s.lockDefault(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.pipeline.Evaluate(ctx, s.sessions.Default(), move)
	if err != nil {
		s.logger.Warn("evaluation failed", zap.String("move", move), zap.Error(err))
		return nil, mapError(err)
	}

	out := toEvaluation(res)
	out.Verdict = renderVerdict(s.catalog, res)
	out.ReviewID = s.record(ctx, res, out.Verdict.Label)
	return out, nil
}

// record stores the graded move; failures are logged and ignored.
func (s *Service) record(ctx context.Context, res *Result, label string) string {
	if s.reviews == nil {
		return ""
	}
	rec := &review.Record{
		SessionID:   session.DefaultID,
		Ply:         len(res.Moves) - 1,
		Color:       string(res.UserColor),
		Move:        res.UserMove,
		BestMove:    res.Metrics.Debug.BaselineBestMove,
		BotMove:     res.BotMove,
		Path:        string(res.Metrics.Path),
		Label:       label,
		LossWinrate: res.Metrics.LossWinrate,
		LossScore:   res.Metrics.LossScore,
		EngineCalls: res.EngineCalls,
		Moves:       lo.Map(res.Moves, func(m baduk.Move, _ int) string { return m.Coord }),
	}
	if err := s.reviews.Insert(ctx, rec); err != nil {
		s.logger.Warn("failed to store review", zap.Error(err))
		return ""
	}
	return rec.ID
}

// Reviews lists the most recent graded moves of the default session.
func (s *Service) Reviews(ctx context.Context, limit int) (*coachdto.Reviews, error) {
	out := &coachdto.Reviews{Items: []coachdto.Review{}}
	if s.reviews == nil {
		return out, nil
	}
	list, err := s.reviews.Recent(ctx, session.DefaultID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	for _, r := range list {
		out.Items = append(out.Items, coachdto.Review{
			ID:          r.ID,
			Ply:         r.Ply,
			Color:       r.Color,
			Move:        r.Move,
			BestMove:    r.BestMove,
			BotMove:     r.BotMove,
			Path:        r.Path,
			Label:       r.Label,
			LossWinrate: r.LossWinrate,
			LossScore:   r.LossScore,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.engine.Shutdown(); err != nil {
		return mapError(err)
	}
	return nil
}

// ApplyConfig switches preset, hardware or network, restarts the engine and
// resets the session.
func (s *Service) ApplyConfig(ctx context.Context, patch coachdto.ConfigPatch) (*coachdto.Config, error) {
	rc, _ := s.engine.Config()
	if strings.TrimSpace(patch.Preset) != "" {
		p, err := katago.ParsePreset(patch.Preset)
		if err != nil {
			return nil, invalidConfig(err)
		}
		rc.Preset = p
	}
	if strings.TrimSpace(patch.Hardware) != "" {
		h, err := katago.ParseHardware(patch.Hardware)
		if err != nil {
			return nil, invalidConfig(err)
		}
		rc.Hardware = h
	}
	if name := strings.TrimSpace(patch.NetworkFilename); name != "" {
		rc.NetworkFilename = name
	}

	unlock, err := s.lockDefault(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.engine.ApplyConfigAndRestart(ctx, rc); err != nil {
		s.logger.Error("apply config failed", zap.Error(err))
		return nil, mapError(err)
	}
	s.sessions.Default().Reset()
	cfg := s.Config()
	return &cfg, nil
}

// ApplyOverrides merges o into the current overrides and restarts the engine.
// The session is kept.
func (s *Service) ApplyOverrides(ctx context.Context, o katago.Overrides) (*coachdto.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, invalidConfig(err)
	}
	rc, _ := s.engine.Config()
	rc.Overrides = rc.Overrides.Merge(o)

	unlock, err := s.lockDefault(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.engine.ApplyConfigAndRestart(ctx, rc); err != nil {
		s.logger.Error("apply overrides failed", zap.Error(err))
		return nil, mapError(err)
	}
	cfg := s.Config()
	return &cfg, nil
}

func (s *Service) Config() coachdto.Config {
	rc, eff := s.engine.Config()
	return coachdto.Config{
		BoardSize:        rc.BoardSize,
		Komi:             rc.Komi,
		Rules:            rc.Rules,
		ExecPath:         rc.ExecPath,
		NetworksDir:      rc.NetworksDir,
		NetworkFilename:  rc.NetworkFilename,
		GeneratedCfgPath: rc.ConfigPath(),
		Hardware:         string(rc.Hardware),
		Preset:           string(rc.Preset),
		Overrides:        overridesMap(rc.Overrides),
		Effective: coachdto.EngineSettings{
			NumAnalysisThreads:        eff.NumAnalysisThreads,
			NumSearchThreads:          eff.NumSearchThreads,
			NNCacheSizePowerOfTwo:     eff.NNCacheSizePowerOfTwo,
			NNMutexPoolSizePowerOfTwo: eff.NNMutexPoolSizePowerOfTwo,
			NNMaxBatchSize:            eff.NNMaxBatchSize,
			LagBuffer:                 eff.LagBuffer,
			MaxVisits:                 eff.MaxVisits,
			AnalysisPVLen:             eff.AnalysisPVLen,
			WideRootNoise:             eff.WideRootNoise,
		},
		EngineState:   s.engine.State().String(),
		ResponseShape: s.engine.ResponseShape(),
	}
}

func overridesMap(o katago.Overrides) map[string]any {
	out := map[string]any{}
	b, err := json.Marshal(o)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func (s *Service) Networks() (*coachdto.Networks, error) {
	rc, _ := s.engine.Config()
	files, err := katago.ListNetworks(rc.NetworksDir)
	if err != nil {
		return nil, mapError(err)
	}
	return &coachdto.Networks{
		Dir: rc.NetworksDir,
		Files: lo.Map(files, func(f katago.NetworkFile, _ int) coachdto.Network {
			return coachdto.Network{Filename: f.Filename, FullPath: f.FullPath, Size: f.Size, ModTime: f.ModTime}
		}),
	}, nil
}

func toCandidates(in []katago.Candidate) []coachdto.Candidate {
	return lo.Map(in, func(c katago.Candidate, _ int) coachdto.Candidate {
		return coachdto.Candidate{Move: c.Move, Order: c.Order, Prior: c.Prior, Winrate: c.Winrate, Score: c.Score, PV: c.PV}
	})
}

func toEvaluation(res *Result) *coachdto.Evaluation {
	m := res.Metrics
	next := baduk.ColorToMove(res.Moves)
	return &coachdto.Evaluation{
		Bot: coachdto.BotMove{BotMove: res.BotMove, Candidates: toCandidates(res.BotCandidates)},
		User: coachdto.UserMove{
			Move:            res.UserMove,
			Color:           string(res.UserColor),
			Recommendations: toCandidates(res.Recommendations),
		},
		Metrics: coachdto.Metrics{
			BestWinrateBefore: m.BestWinrateBefore,
			UserWinrate:       m.UserWinrate,
			LossWinrate:       m.LossWinrate,
			BestScoreBefore:   m.BestScoreBefore,
			UserScore:         m.UserScore,
			LossScore:         m.LossScore,
			AbsLossWinrate:    m.AbsLossWinrate,
			AbsLossScore:      m.AbsLossScore,
			IsImprovement:     m.IsImprovement,
			Path:              string(m.Path),
			Debug: coachdto.MetricsDebug{
				SideToMoveBaseline:  string(m.Debug.SideToMoveBaseline),
				WinrateSTMBaseline:  m.Debug.WinrateSTMBaseline,
				WinrateUserBaseline: m.Debug.WinrateUserBaseline,
				SideToMoveAfterUser: string(m.Debug.SideToMoveAfterUser),
				WinrateSTMAfterUser: m.Debug.WinrateSTMAfterUser,
				WinrateUserAfter:    m.Debug.WinrateUserAfter,
				BaselineBestMove:    m.Debug.BaselineBestMove,
				BaselineBestWinrate: m.Debug.BaselineBestWinrate,
				BaselineBestScore:   m.Debug.BaselineBestScore,
				EngineCalls:         res.EngineCalls,
			},
		},
		Ownership: res.Ownership,
		State: coachdto.State{
			Moves:     lo.Map(res.Moves, func(mv baduk.Move, _ int) string { return mv.Coord }),
			History:   lo.Map(res.Moves, func(mv baduk.Move, _ int) [2]string { return mv.Pair() }),
			NextColor: string(next),
		},
	}
}

func invalidConfig(err error) error {
	return &coachdto.DomainError{Code: coachdto.CodeInvalidConfig, Message: err.Error(), Cause: err}
}

// mapError turns internal errors into a *coachdto.DomainError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var de *coachdto.DomainError
	if errors.As(err, &de) {
		return de
	}
	out := &coachdto.DomainError{Cause: err, Message: err.Error()}
	var se *StageError
	if errors.As(err, &se) {
		out.Stage = se.Stage.String()
	}
	var ee *proc.EngineError
	switch {
	case errors.Is(err, ErrInvalidMove), errors.Is(err, session.ErrOutOfTurn):
		out.Code = coachdto.CodeInvalidMove
	case errors.Is(err, session.ErrNotFound):
		out.Code = coachdto.CodeSessionNotFound
	case errors.Is(err, katago.ErrUnknownHardware), errors.Is(err, katago.ErrUnknownPreset), errors.Is(err, katago.ErrNoNetwork):
		out.Code = coachdto.CodeInvalidConfig
	case errors.As(err, &ee):
		out.Code = coachdto.CodeEngineRejected
	case errors.Is(err, proc.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		out.Code = coachdto.CodeEngineTimeout
		out.Retryable = true
	case proc.IsProcessError(err), errors.Is(err, proc.ErrClosed):
		out.Code = coachdto.CodeEngineUnavailable
		out.Retryable = true
	default:
		out.Code = coachdto.CodeInternal
		out.Message = fmt.Sprintf("internal error: %v", err)
	}
	return out
}
