package httpapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/park285/baduk-coach/internal/katago"
	"github.com/park285/baduk-coach/pkg/coachdto"
)

type fakeCoach struct {
	started   int
	resets    int
	moves     []string
	patches   []coachdto.ConfigPatch
	overrides []katago.Overrides
	limit     int
	submitErr error
}

func (f *fakeCoach) Start(context.Context) error { f.started++; return nil }
func (f *fakeCoach) Reset(context.Context) error { f.resets++; return nil }
func (f *fakeCoach) Shutdown(context.Context) error {
	return nil
}

func (f *fakeCoach) Submit(_ context.Context, move string) (*coachdto.Evaluation, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.moves = append(f.moves, move)
	return &coachdto.Evaluation{
		Bot:     coachdto.BotMove{BotMove: "Q16"},
		User:    coachdto.UserMove{Move: move, Color: "b"},
		Metrics: coachdto.Metrics{Path: "HIT"},
	}, nil
}

func (f *fakeCoach) ApplyConfig(_ context.Context, p coachdto.ConfigPatch) (*coachdto.Config, error) {
	f.patches = append(f.patches, p)
	return &coachdto.Config{Preset: p.Preset}, nil
}

func (f *fakeCoach) ApplyOverrides(_ context.Context, o katago.Overrides) (*coachdto.Config, error) {
	f.overrides = append(f.overrides, o)
	return &coachdto.Config{}, nil
}

func (f *fakeCoach) Config() coachdto.Config {
	return coachdto.Config{BoardSize: 19, EngineState: "running"}
}

func (f *fakeCoach) Networks() (*coachdto.Networks, error) {
	return &coachdto.Networks{Dir: "/nets", Files: []coachdto.Network{{Filename: "a.bin.gz"}}}, nil
}

func (f *fakeCoach) Reviews(_ context.Context, limit int) (*coachdto.Reviews, error) {
	f.limit = limit
	return &coachdto.Reviews{Items: []coachdto.Review{}}, nil
}

func do(t *testing.T, h fasthttp.RequestHandler, method, uri, body string) *fasthttp.RequestCtx {
	t.Helper()
	var rc fasthttp.RequestCtx
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(uri)
	if body != "" {
		rc.Request.Header.SetContentType("application/json")
		rc.Request.SetBodyString(body)
	}
	h(&rc)
	return &rc
}

func decodeError(t *testing.T, rc *fasthttp.RequestCtx) *coachdto.DomainError {
	t.Helper()
	var out struct {
		Error *coachdto.DomainError `json:"error"`
	}
	if err := json.Unmarshal(rc.Response.Body(), &out); err != nil || out.Error == nil {
		t.Fatalf("expected error body, got %s (%v)", rc.Response.Body(), err)
	}
	return out.Error
}

func TestPlayEval(t *testing.T) {
	coach := &fakeCoach{}
	h := New(coach).Handler()
	rc := do(t, h, fasthttp.MethodPost, "/game/play-eval", `{"move":"d4"}`)
	if rc.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status %d body %s", rc.Response.StatusCode(), rc.Response.Body())
	}
	var out map[string]any
	if err := json.Unmarshal(rc.Response.Body(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["MovBot"]; !ok {
		t.Fatalf("response must carry MovBot: %s", rc.Response.Body())
	}
	if len(coach.moves) != 1 || coach.moves[0] != "d4" {
		t.Fatalf("move not forwarded: %v", coach.moves)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    *coachdto.DomainError
		status int
	}{
		{&coachdto.DomainError{Code: coachdto.CodeInvalidMove}, fasthttp.StatusUnprocessableEntity},
		{&coachdto.DomainError{Code: coachdto.CodeEngineTimeout, Retryable: true}, fasthttp.StatusServiceUnavailable},
		{&coachdto.DomainError{Code: coachdto.CodeEngineUnavailable, Retryable: true}, fasthttp.StatusServiceUnavailable},
		{&coachdto.DomainError{Code: coachdto.CodeInvalidConfig}, fasthttp.StatusBadRequest},
		{&coachdto.DomainError{Code: coachdto.CodeEngineRejected}, fasthttp.StatusUnprocessableEntity},
		{&coachdto.DomainError{Code: coachdto.CodeInternal}, fasthttp.StatusInternalServerError},
	}
	for _, tc := range cases {
		coach := &fakeCoach{submitErr: tc.err}
		rc := do(t, New(coach).Handler(), fasthttp.MethodPost, "/game/play-eval", `{"move":"D4"}`)
		if rc.Response.StatusCode() != tc.status {
			t.Fatalf("%s: status %d, want %d", tc.err.Code, rc.Response.StatusCode(), tc.status)
		}
		if got := decodeError(t, rc); got.Code != tc.err.Code || got.Retryable != tc.err.Retryable {
			t.Fatalf("unexpected error body %+v", got)
		}
	}
}

func TestRoutingErrors(t *testing.T) {
	h := New(&fakeCoach{}).Handler()
	if rc := do(t, h, fasthttp.MethodGet, "/game/nope", ""); rc.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", rc.Response.StatusCode())
	}
	rc := do(t, h, fasthttp.MethodGet, "/game/play-eval", "")
	if rc.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rc.Response.StatusCode())
	}
	if string(rc.Response.Header.Peek("Allow")) != fasthttp.MethodPost {
		t.Fatalf("missing Allow header")
	}
	rc = do(t, h, fasthttp.MethodPost, "/game/play-eval", `{"move":`)
	if rc.Response.StatusCode() != fasthttp.StatusBadRequest || decodeError(t, rc).Code != "bad_request" {
		t.Fatalf("malformed json should be 400, got %d", rc.Response.StatusCode())
	}
}

func TestConfigRoutes(t *testing.T) {
	coach := &fakeCoach{}
	h := New(coach).Handler()

	rc := do(t, h, fasthttp.MethodPost, "/game/start", "")
	if rc.Response.StatusCode() != fasthttp.StatusOK || coach.started != 1 {
		t.Fatalf("start failed: %d", rc.Response.StatusCode())
	}
	rc = do(t, h, fasthttp.MethodPost, "/game/config/apply", `{"preset":"hard","hardware":"gpu"}`)
	if rc.Response.StatusCode() != fasthttp.StatusOK || len(coach.patches) != 1 || coach.patches[0].Hardware != "gpu" {
		t.Fatalf("apply not forwarded: %+v", coach.patches)
	}
	rc = do(t, h, fasthttp.MethodPost, "/game/config/override", `{"maxVisits":50}`)
	if rc.Response.StatusCode() != fasthttp.StatusOK || len(coach.overrides) != 1 || *coach.overrides[0].MaxVisits != 50 {
		t.Fatalf("override not forwarded")
	}
	rc = do(t, h, fasthttp.MethodGet, "/game/config/", "")
	var cfg coachdto.Config
	if err := json.Unmarshal(rc.Response.Body(), &cfg); err != nil || cfg.BoardSize != 19 {
		t.Fatalf("config route: %s", rc.Response.Body())
	}
	rc = do(t, h, fasthttp.MethodGet, "/game/networks", "")
	var nets coachdto.Networks
	if err := json.Unmarshal(rc.Response.Body(), &nets); err != nil || len(nets.Files) != 1 {
		t.Fatalf("networks route: %s", rc.Response.Body())
	}
	rc = do(t, h, fasthttp.MethodGet, "/game/reviews?limit=5", "")
	if rc.Response.StatusCode() != fasthttp.StatusOK || coach.limit != 5 {
		t.Fatalf("reviews limit not forwarded: %d", coach.limit)
	}
	rc = do(t, h, fasthttp.MethodGet, "/game/reviews?limit=x", "")
	if rc.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", rc.Response.StatusCode())
	}
}
