package katago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/baduk"
	"github.com/park285/baduk-coach/internal/katago/proc"
)

const (
	probeTimeout    = 30 * time.Second
	restartAttempts = 3
	restartDelay    = 250 * time.Millisecond
)

type EngineOption func(*Engine)

func WithSupervisorOptions(opts ...proc.SupervisorOption) EngineOption {
	return func(e *Engine) { e.supOpts = append(e.supOpts, opts...) }
}

func WithCorrelatorOptions(opts ...proc.CorrelatorOption) EngineOption {
	return func(e *Engine) { e.corrOpts = append(e.corrOpts, opts...) }
}

func WithClientOptions(opts ...ClientOption) EngineOption {
	return func(e *Engine) { e.clientOpts = append(e.clientOpts, opts...) }
}

// Engine owns the analysis process: it writes the generated config, keeps
// the process alive and hands out a Client bound to it.
type Engine struct {
	logger *zap.Logger
	corr   *proc.Correlator
	sup    *proc.Supervisor
	client *Client

	supOpts    []proc.SupervisorOption
	corrOpts   []proc.CorrelatorOption
	clientOpts []ClientOption

	mu  sync.Mutex
	rc  RuntimeConfig
	eff Effective
}

func NewEngine(rc RuntimeConfig, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	eff, err := rc.Resolve()
	if err != nil {
		return nil, err
	}
	e := &Engine{logger: logger, rc: rc, eff: eff}
	for _, opt := range opts {
		opt(e)
	}
	e.corr = proc.NewCorrelator(logger.Named("correlator"), e.corrOpts...)
	e.sup = proc.NewSupervisor(e.corr, logger.Named("supervisor"), e.supOpts...)
	clientOpts := append([]ClientOption{WithLogger(logger)}, e.clientOpts...)
	e.client = NewClient(e, rc.Params(eff), clientOpts...)
	return e, nil
}

func (e *Engine) Client() *Client { return e.client }

func (e *Engine) State() proc.State { return e.sup.State() }

func (e *Engine) Pending() int { return e.corr.Pending() }

// ResponseShape names the pinned response adapter, or "" when responses are
// probed one by one.
func (e *Engine) ResponseShape() string {
	if s := e.client.Shape(); s != nil {
		return s.Name()
	}
	return ""
}

// Config returns the current runtime and resolved configuration.
func (e *Engine) Config() (RuntimeConfig, Effective) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rc, e.eff
}

// Analyze is shorthand for Client().Analyze.
func (e *Engine) Analyze(ctx context.Context, moves []baduk.Move) (*Analysis, error) {
	return e.client.Analyze(ctx, moves)
}

// Send implements Sender. A process that was never started, or was shut
// down, is started on demand; one that died stays down until Warmup or
// ApplyConfigAndRestart re-arms it.
func (e *Engine) Send(ctx context.Context, payload any, timeout time.Duration) (json.RawMessage, error) {
	switch e.sup.State() {
	case proc.StateFailed:
		if last := e.sup.LastError(); last != nil {
			return nil, fmt.Errorf("%w: %w", proc.ErrNotRunning, last)
		}
		return nil, proc.ErrNotRunning
	case proc.StateStopped:
		if err := e.start(ctx); err != nil {
			return nil, err
		}
	}
	return e.corr.Send(ctx, payload, timeout)
}

// Warmup starts the process if needed and pins the response adapter from a
// probe query on the empty board.
func (e *Engine) Warmup(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		return err
	}
	e.probe(ctx)
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	path, args, err := e.prepare()
	if err != nil {
		return err
	}
	return e.sup.EnsureRunning(ctx, path, args)
}

// prepare resolves the network file and writes the generated config.
func (e *Engine) prepare() (string, []string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rc.NetworkFilename == "" {
		name, err := LatestNetwork(e.rc.NetworksDir)
		if err != nil {
			return "", nil, err
		}
		e.rc.NetworkFilename = name
		e.logger.Info("using newest network", zap.String("network", name))
	}
	if _, err := WriteAnalysisConfig(e.rc, e.eff); err != nil {
		return "", nil, err
	}
	return e.rc.ExecPath, e.rc.LaunchArgs(), nil
}

func (e *Engine) probe(ctx context.Context) {
	req := e.client.BuildRequest(nil)
	req.MaxVisits = 1
	b, err := e.corr.Send(ctx, req, probeTimeout)
	if err != nil {
		e.logger.Warn("capability probe failed, probing per response", zap.Error(err))
		e.client.PinShape(nil)
		return
	}
	raw, err := DecodeRaw(b)
	if err != nil {
		e.logger.Warn("capability probe unreadable", zap.Error(err))
		e.client.PinShape(nil)
		return
	}
	shape := ProbeShape(raw)
	e.client.PinShape(shape)
	if shape == nil {
		e.logger.Warn("capability probe found no known response shape")
		return
	}
	e.logger.Info("response shape pinned", zap.String("shape", shape.Name()))
}

// ApplyConfigAndRestart writes the config derived from rc and replaces the
// running process. Pending requests fail with proc.ErrProcessStopped. On
// failure the previous configuration stays current.
func (e *Engine) ApplyConfigAndRestart(ctx context.Context, rc RuntimeConfig) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	if rc.NetworkFilename != "" && !HasNetwork(rc.NetworksDir, rc.NetworkFilename) {
		return fmt.Errorf("%w: %s", ErrNoNetwork, rc.NetworkFilename)
	}
	eff, err := rc.Resolve()
	if err != nil {
		return err
	}

	e.mu.Lock()
	prevRC, prevEff := e.rc, e.eff
	e.rc, e.eff = rc, eff
	e.mu.Unlock()

	err = retry.Do(
		func() error {
			path, args, err := e.prepare()
			if err != nil {
				return err
			}
			return e.sup.Restart(ctx, path, args)
		},
		retry.Context(ctx),
		retry.Attempts(restartAttempts),
		retry.Delay(restartDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrNoNetwork) }),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("engine restart failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		e.mu.Lock()
		e.rc, e.eff = prevRC, prevEff
		e.mu.Unlock()
		return fmt.Errorf("apply engine config: %w", err)
	}

	e.mu.Lock()
	params := e.rc.Params(e.eff)
	e.mu.Unlock()
	e.client.SetParams(params)
	e.probe(ctx)
	e.logger.Info("engine config applied",
		zap.String("hardware", string(rc.Hardware)),
		zap.String("preset", string(rc.Preset)),
		zap.Int("maxVisits", eff.MaxVisits),
	)
	return nil
}

// Shutdown stops the process. A later Send starts it again.
func (e *Engine) Shutdown() error {
	return e.sup.Stop()
}
