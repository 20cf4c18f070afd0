package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/katago"
	"github.com/park285/baduk-coach/pkg/coachdto"
)

const (
	defaultRequestTimeout = 10 * time.Minute
	maxBodySize           = 1 << 20
)

// Coach is the service surface exposed over HTTP.
type Coach interface {
	Start(ctx context.Context) error
	Reset(ctx context.Context) error
	Submit(ctx context.Context, move string) (*coachdto.Evaluation, error)
	Shutdown(ctx context.Context) error
	ApplyConfig(ctx context.Context, patch coachdto.ConfigPatch) (*coachdto.Config, error)
	ApplyOverrides(ctx context.Context, o katago.Overrides) (*coachdto.Config, error)
	Config() coachdto.Config
	Networks() (*coachdto.Networks, error)
	Reviews(ctx context.Context, limit int) (*coachdto.Reviews, error)
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type Server struct {
	coach   Coach
	logger  *zap.Logger
	timeout time.Duration
	srv     *fasthttp.Server
}

func New(coach Coach, opts ...Option) *Server {
	s := &Server{coach: coach, logger: zap.NewNop(), timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "baduk-coach",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       s.timeout + 30*time.Second,
		MaxRequestBodySize: maxBodySize,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

type route struct {
	method string
	handle func(ctx context.Context, rc *fasthttp.RequestCtx) (any, error)
}

// Handler routes /game/* requests.
func (s *Server) Handler() fasthttp.RequestHandler {
	routes := map[string]route{
		"/game/start":           {fasthttp.MethodPost, s.handleStart},
		"/game/reset":           {fasthttp.MethodPost, s.handleReset},
		"/game/play-eval":       {fasthttp.MethodPost, s.handlePlayEval},
		"/game/shutdown":        {fasthttp.MethodPost, s.handleShutdown},
		"/game/config":          {fasthttp.MethodGet, s.handleConfig},
		"/game/config/apply":    {fasthttp.MethodPost, s.handleApply},
		"/game/config/override": {fasthttp.MethodPost, s.handleOverride},
		"/game/networks":        {fasthttp.MethodGet, s.handleNetworks},
		"/game/reviews":         {fasthttp.MethodGet, s.handleReviews},
		"/healthz":              {fasthttp.MethodGet, s.handleHealth},
	}
	return func(rc *fasthttp.RequestCtx) {
		started := time.Now()
		path := strings.TrimRight(string(rc.Path()), "/")
		r, ok := routes[path]
		switch {
		case !ok:
			writeJSON(rc, fasthttp.StatusNotFound, errorBody{Error: &coachdto.DomainError{Code: "not_found", Message: "no route for " + path}})
		case string(rc.Method()) != r.method:
			rc.Response.Header.Set("Allow", r.method)
			writeJSON(rc, fasthttp.StatusMethodNotAllowed, errorBody{Error: &coachdto.DomainError{Code: "method_not_allowed", Message: "use " + r.method}})
		default:
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			out, err := r.handle(ctx, rc)
			cancel()
			if err != nil {
				s.writeError(rc, err)
			} else {
				writeJSON(rc, fasthttp.StatusOK, out)
			}
		}
		s.logger.Debug("http request",
			zap.String("method", string(rc.Method())),
			zap.String("path", path),
			zap.Int("status", rc.Response.StatusCode()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

type errorBody struct {
	Error *coachdto.DomainError `json:"error"`
}

type playEvalRequest struct {
	Move string `json:"move"`
}

func (s *Server) handleStart(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	if err := s.coach.Start(ctx); err != nil {
		return nil, err
	}
	return coachdto.StatusResponse{Status: "ok", Message: "engine ready"}, nil
}

func (s *Server) handleReset(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	if err := s.coach.Reset(ctx); err != nil {
		return nil, err
	}
	return coachdto.StatusResponse{Status: "ok"}, nil
}

func (s *Server) handlePlayEval(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var req playEvalRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	return s.coach.Submit(ctx, req.Move)
}

func (s *Server) handleShutdown(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	if err := s.coach.Shutdown(ctx); err != nil {
		return nil, err
	}
	return coachdto.StatusResponse{Status: "ok", Message: "engine stopped"}, nil
}

func (s *Server) handleConfig(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	return s.coach.Config(), nil
}

func (s *Server) handleApply(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var patch coachdto.ConfigPatch
	if err := decodeBody(rc, &patch); err != nil {
		return nil, err
	}
	return s.coach.ApplyConfig(ctx, patch)
}

func (s *Server) handleOverride(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	var o katago.Overrides
	if err := decodeBody(rc, &o); err != nil {
		return nil, err
	}
	return s.coach.ApplyOverrides(ctx, o)
}

func (s *Server) handleNetworks(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	return s.coach.Networks()
}

func (s *Server) handleReviews(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	limit := 0
	if v := rc.QueryArgs().Peek("limit"); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil || n < 0 {
			return nil, &coachdto.DomainError{Code: "bad_request", Message: "limit must be a non-negative integer"}
		}
		limit = n
	}
	return s.coach.Reviews(ctx, limit)
}

func (s *Server) handleHealth(ctx context.Context, rc *fasthttp.RequestCtx) (any, error) {
	cfg := s.coach.Config()
	return coachdto.StatusResponse{Status: "ok", Message: cfg.EngineState}, nil
}

func decodeBody(rc *fasthttp.RequestCtx, dst any) error {
	body := rc.PostBody()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &coachdto.DomainError{Code: "bad_request", Message: "invalid json body: " + err.Error(), Cause: err}
	}
	return nil
}

func (s *Server) writeError(rc *fasthttp.RequestCtx, err error) {
	var de *coachdto.DomainError
	if !errors.As(err, &de) {
		de = &coachdto.DomainError{Code: coachdto.CodeInternal, Message: err.Error(), Cause: err}
	}
	status := StatusFor(de)
	if status >= fasthttp.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("path", string(rc.Path())),
			zap.String("code", de.Code),
			zap.String("stage", de.Stage),
			zap.Error(err),
		)
	}
	writeJSON(rc, status, errorBody{Error: de})
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(de *coachdto.DomainError) int {
	if de.Retryable {
		return fasthttp.StatusServiceUnavailable
	}
	switch de.Code {
	case "bad_request", coachdto.CodeInvalidConfig:
		return fasthttp.StatusBadRequest
	case coachdto.CodeInvalidMove, coachdto.CodeEngineRejected:
		return fasthttp.StatusUnprocessableEntity
	case coachdto.CodeSessionNotFound:
		return fasthttp.StatusNotFound
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		rc.Error(`{"error":{"code":"internal","message":"encode response"}}`, fasthttp.StatusInternalServerError)
		rc.SetContentType("application/json")
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json; charset=utf-8")
	rc.SetBody(b)
}
