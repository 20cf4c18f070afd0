package coachclient

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/baduk-coach/pkg/coachdto"
)

func serve(t *testing.T, h fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return New("http://coach.test", WithHTTPClient(hc), WithTimeout(5*time.Second))
}

func TestPlayEvalDecodesEvaluation(t *testing.T) {
	c := serve(t, func(rc *fasthttp.RequestCtx) {
		if string(rc.Path()) != "/game/play-eval" || string(rc.Method()) != fasthttp.MethodPost {
			rc.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		rc.SetContentType("application/json")
		rc.SetBodyString(`{"MovBot":{"botMove":"Q16","candidates":[]},"MovUser":{"move":"D4","color":"b","recommendations":[]},"metrics":{"path":"HIT"},"verdict":{"label":"best"},"ownership":[],"state":{"moves":["D4","Q16"],"history":[["b","D4"],["w","Q16"]],"nextColor":"b"}}`)
	})
	out, err := c.PlayEval(context.Background(), "D4")
	if err != nil {
		t.Fatalf("PlayEval: %v", err)
	}
	if out.Bot.BotMove != "Q16" || out.Metrics.Path != "HIT" || out.State.NextColor != "b" {
		t.Fatalf("unexpected evaluation %+v", out)
	}
}

func TestDomainErrorsAreDecoded(t *testing.T) {
	c := serve(t, func(rc *fasthttp.RequestCtx) {
		rc.SetStatusCode(fasthttp.StatusUnprocessableEntity)
		rc.SetBodyString(`{"error":{"code":"invalid_move","message":"invalid move: Z99","retryable":false}}`)
	})
	_, err := c.PlayEval(context.Background(), "Z99")
	var de *coachdto.DomainError
	if !errors.As(err, &de) || de.Code != coachdto.CodeInvalidMove {
		t.Fatalf("expected invalid_move domain error, got %v", err)
	}
}

func TestRetriesIdempotentCallsOnUnavailable(t *testing.T) {
	var hits int32
	c := serve(t, func(rc *fasthttp.RequestCtx) {
		if atomic.AddInt32(&hits, 1) < 3 {
			rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
			rc.SetBodyString(`{"error":{"code":"engine_unavailable","retryable":true}}`)
			return
		}
		rc.SetBodyString(`{"boardSize":19,"engineState":"running"}`)
	})
	cfg, err := c.Config(context.Background())
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.BoardSize != 19 || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected success on third attempt, hits=%d cfg=%+v", hits, cfg)
	}
}

func TestPlayEvalIsNotRetried(t *testing.T) {
	var hits int32
	c := serve(t, func(rc *fasthttp.RequestCtx) {
		atomic.AddInt32(&hits, 1)
		rc.SetStatusCode(fasthttp.StatusServiceUnavailable)
		rc.SetBodyString(`{"error":{"code":"engine_timeout","retryable":true}}`)
	})
	if _, err := c.PlayEval(context.Background(), "D4"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("play-eval must be sent once, got %d", n)
	}
}
