package katago

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/baduk-coach/internal/baduk"
	"github.com/park285/baduk-coach/internal/katago/proc"
)

const crashKomi = -99

// TestHelperKataGo is the fake analysis engine launched through a wrapper
// script by the engine tests.
func TestHelperKataGo(t *testing.T) {
	if os.Getenv("COACH_WANT_HELPER_KATAGO") != "1" {
		return
	}
	out := bufio.NewWriter(os.Stdout)
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var req struct {
			ID    string      `json:"id"`
			Komi  float64     `json:"komi"`
			Moves [][2]string `json:"moves"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		if req.Komi == crashKomi {
			os.Exit(3)
		}
		fmt.Fprintf(out, `{"id":%q,"isDuringSearch":false,"turnNumber":%d,"rootInfo":{"winrate":0.5,"scoreLead":0.5},"moveInfos":[{"move":"Q16","winrate":0.52,"scoreMean":0.5,"prior":0.3,"pv":["Q16"]},{"move":"D4","winrate":0.5,"scoreMean":0.4,"prior":0.2}],"ownership":[0.1,0.2]}`+"\n", req.ID, len(req.Moves))
		out.Flush()
	}
	os.Exit(0)
}

func helperRuntime(t *testing.T) RuntimeConfig {
	t.Helper()
	dir := t.TempDir()
	netDir := filepath.Join(dir, "networks")
	if err := os.MkdirAll(netDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(netDir, "kata1-test.bin.gz"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write network: %v", err)
	}
	script := filepath.Join(dir, "katago")
	body := fmt.Sprintf("#!/bin/sh\nexec %q -test.run=TestHelperKataGo -- \"$@\"\n", os.Args[0])
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return RuntimeConfig{
		BoardSize:        19,
		Komi:             7.5,
		Rules:            "chinese",
		ExecPath:         script,
		NetworksDir:      netDir,
		GeneratedCfgPath: filepath.Join(dir, "analysis_web.cfg"),
		Hardware:         HardwareCPULow,
		Preset:           PresetEasy,
		AnalyzeTimeout:   10 * time.Second,
	}
}

func newHelperEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(helperRuntime(t), nil,
		WithSupervisorOptions(proc.WithEnv("COACH_WANT_HELPER_KATAGO=1"), proc.WithStopGrace(2*time.Second)),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestEngineWarmupPinsShape(t *testing.T) {
	e := newHelperEngine(t)
	ctx := context.Background()
	if err := e.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if s := e.Client().Shape(); s == nil || s.Name() != ShapeFlat {
		t.Fatalf("expected flat shape pinned, got %v", s)
	}
	rc, eff := e.Config()
	if rc.NetworkFilename != "kata1-test.bin.gz" {
		t.Fatalf("newest network should be picked, got %q", rc.NetworkFilename)
	}
	if eff.MaxVisits != 60 {
		t.Fatalf("easy preset should resolve 60 visits, got %d", eff.MaxVisits)
	}
	b, err := os.ReadFile(rc.ConfigPath())
	if err != nil || !strings.Contains(string(b), "maxVisits = 60") {
		t.Fatalf("generated config not written: %v", err)
	}

	a, err := e.Analyze(ctx, []baduk.Move{{Color: baduk.Black, Coord: "D4"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(a.MoveInfos) != 2 || a.SideToMove != baduk.White || len(a.Ownership) != 2 {
		t.Fatalf("unexpected analysis %+v", a)
	}
}

func TestEngineLazyStartAfterShutdown(t *testing.T) {
	e := newHelperEngine(t)
	ctx := context.Background()
	if _, err := e.Analyze(ctx, nil); err != nil {
		t.Fatalf("Analyze should start the engine on demand: %v", err)
	}
	if e.State() != proc.StateRunning {
		t.Fatalf("expected running, got %s", e.State())
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := e.Analyze(ctx, nil); err != nil {
		t.Fatalf("Analyze after shutdown: %v", err)
	}
}

func TestEngineFailedBlocksUntilRearmed(t *testing.T) {
	e := newHelperEngine(t)
	ctx := context.Background()
	if err := e.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	good := e.Client().Params()
	bad := good
	bad.Komi = crashKomi
	e.Client().SetParams(bad)
	if _, err := e.Analyze(ctx, nil); !errors.Is(err, proc.ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for e.State() != proc.StateFailed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	e.Client().SetParams(good)
	if _, err := e.Analyze(ctx, nil); !errors.Is(err, proc.ErrNotRunning) {
		t.Fatalf("a failed engine must block analyze, got %v", err)
	}
	if err := e.Warmup(ctx); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if _, err := e.Analyze(ctx, nil); err != nil {
		t.Fatalf("Analyze after re-arm: %v", err)
	}
}

func TestEngineApplyConfigAndRestart(t *testing.T) {
	e := newHelperEngine(t)
	ctx := context.Background()
	if err := e.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	rc, _ := e.Config()
	rc.Preset = PresetPro
	rc.Overrides = Overrides{MaxVisits: intp(77)}
	if err := e.ApplyConfigAndRestart(ctx, rc); err != nil {
		t.Fatalf("ApplyConfigAndRestart: %v", err)
	}
	if _, eff := e.Config(); eff.MaxVisits != 77 || eff.AnalysisPVLen != 7 {
		t.Fatalf("new config not current: %+v", eff.PresetSettings)
	}
	if e.Client().Params().MaxVisits != 77 {
		t.Fatalf("client params not refreshed")
	}
	if _, err := e.Analyze(ctx, nil); err != nil {
		t.Fatalf("Analyze after restart: %v", err)
	}

	rc.NetworkFilename = "missing.bin.gz"
	if err := e.ApplyConfigAndRestart(ctx, rc); !errors.Is(err, ErrNoNetwork) {
		t.Fatalf("expected ErrNoNetwork, got %v", err)
	}
	if cur, _ := e.Config(); cur.NetworkFilename != "kata1-test.bin.gz" {
		t.Fatalf("failed apply must keep the previous config, got %q", cur.NetworkFilename)
	}
}
