package proc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const helperEnv = "COACH_WANT_HELPER_ENGINE=1"

// TestHelperEngine is not a real test: it is the fake engine the supervisor
// tests launch by re-executing the test binary.
func TestHelperEngine(t *testing.T) {
	if os.Getenv("COACH_WANT_HELPER_ENGINE") != "1" {
		return
	}
	runFakeEngine()
	os.Exit(0)
}

func runFakeEngine() {
	fmt.Fprintln(os.Stderr, "fake engine: loading model")
	fmt.Println("fake engine ready")
	out := bufio.NewWriter(os.Stdout)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		var req struct {
			ID     string `json:"id"`
			Crash    bool   `json:"crash"`
			Silent   bool   `json:"silent"`
			Oversize bool   `json:"oversize"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			fmt.Fprintf(out, `{"error":"could not parse"}`+"\n")
			out.Flush()
			continue
		}
		if req.Crash {
			out.Flush()
			os.Exit(3)
		}
		if req.Silent {
			continue
		}
		if req.Oversize {
			fmt.Fprintf(out, `{"id":%q,"pad":"%s"}`+"\n", req.ID, strings.Repeat("x", maxLineBytes))
			out.Flush()
			continue
		}
		fmt.Fprintf(out, `{"id":%q,"isDuringSearch":true,"rootInfo":{"winrate":0.4}}`+"\n", req.ID)
		fmt.Fprintf(out, `{"id":%q,"isDuringSearch":false,"rootInfo":{"winrate":0.5,"scoreLead":0},"moveInfos":[{"move":"D4","winrate":0.5,"scoreMean":0,"prior":0.1,"pv":["D4"]}]}`+"\n", req.ID)
		out.Flush()
	}
}

func newHelperSupervisor(t *testing.T) (*Supervisor, *Correlator, string, []string) {
	t.Helper()
	corr := NewCorrelator(nil)
	sup := NewSupervisor(corr, nil, WithEnv(helperEnv), WithStopGrace(2*time.Second))
	t.Cleanup(func() { _ = sup.Stop() })
	return sup, corr, os.Args[0], []string{"-test.run=TestHelperEngine", "--"}
}

func waitState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("supervisor state %s, want %s", sup.State(), want)
}

func TestSupervisorRoundTrip(t *testing.T) {
	sup, corr, path, args := newHelperSupervisor(t)
	ctx := context.Background()

	if err := sup.EnsureRunning(ctx, path, args); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	pid := sup.PID()
	if err := sup.EnsureRunning(ctx, path, args); err != nil {
		t.Fatalf("second EnsureRunning: %v", err)
	}
	if sup.PID() != pid || pid == 0 {
		t.Fatalf("EnsureRunning must be idempotent: pid %d then %d", pid, sup.PID())
	}

	raw, err := corr.Send(ctx, map[string]any{"moves": [][]string{}}, 10*time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var resp struct {
		IsDuringSearch bool `json:"isDuringSearch"`
		MoveInfos      []struct {
			Move string `json:"move"`
		} `json:"moveInfos"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsDuringSearch || len(resp.MoveInfos) != 1 || resp.MoveInfos[0].Move != "D4" {
		t.Fatalf("unexpected response %s", raw)
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.State())
	}
	if _, err := corr.Send(ctx, map[string]any{}, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestSupervisorExitFailsPending(t *testing.T) {
	sup, corr, path, args := newHelperSupervisor(t)
	ctx := context.Background()
	if err := sup.EnsureRunning(ctx, path, args); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}

	silent, err := corr.Dispatch(map[string]any{"silent": true}, time.Minute)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := corr.Dispatch(map[string]any{"crash": true}, time.Minute); err != nil {
		t.Fatalf("Dispatch crash: %v", err)
	}

	select {
	case <-silent.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("pending request was left to time out after the process died")
	}
	if _, err := silent.Result(); !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	waitState(t, sup, StateFailed)
	if !errors.Is(sup.LastError(), ErrProcessExited) {
		t.Fatalf("expected last error to record the exit, got %v", sup.LastError())
	}
	if _, err := corr.Send(ctx, map[string]any{}, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("requests must be blocked until re-armed, got %v", err)
	}

	if err := sup.EnsureRunning(ctx, path, args); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if _, err := corr.Send(ctx, map[string]any{}, 10*time.Second); err != nil {
		t.Fatalf("Send after re-arm: %v", err)
	}
}

func TestSupervisorOversizedLineFailsPending(t *testing.T) {
	sup, corr, path, args := newHelperSupervisor(t)
	ctx := context.Background()
	if err := sup.EnsureRunning(ctx, path, args); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}

	silent, err := corr.Dispatch(map[string]any{"silent": true}, time.Minute)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := corr.Dispatch(map[string]any{"oversize": true}, time.Minute); err != nil {
		t.Fatalf("Dispatch oversize: %v", err)
	}

	select {
	case <-silent.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("pending request was left to time out after stdout broke")
	}
	if _, err := silent.Result(); !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	waitState(t, sup, StateFailed)
	if !strings.Contains(sup.LastError().Error(), "read engine stdout") {
		t.Fatalf("last error should name the broken stream, got %v", sup.LastError())
	}
}

func TestSupervisorStopFailsPending(t *testing.T) {
	sup, corr, path, args := newHelperSupervisor(t)
	if err := sup.EnsureRunning(context.Background(), path, args); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	call, err := corr.Dispatch(map[string]any{"silent": true}, time.Minute)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := sup.Restart(context.Background(), path, args); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if _, err := call.Wait(context.Background()); !errors.Is(err, ErrProcessStopped) {
		t.Fatalf("expected ErrProcessStopped, got %v", err)
	}
	if sup.State() != StateRunning {
		t.Fatalf("expected running after restart, got %s", sup.State())
	}
}

func TestSupervisorSpawnFailure(t *testing.T) {
	corr := NewCorrelator(nil)
	sup := NewSupervisor(corr, nil)
	err := sup.EnsureRunning(context.Background(), "/nonexistent/katago-binary", nil)
	if err == nil {
		t.Fatalf("expected spawn failure")
	}
	if sup.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", sup.State())
	}
}
