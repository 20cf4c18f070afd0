package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/park285/baduk-coach/internal/katago"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"KATAGO_PATH", "KATAGO_HARDWARE", "KATAGO_PRESET", "KATAGO_EXTRA_ARGS", "KATAGO_OVERRIDES_FILE", "BOARD_SIZE", "ANALYZE_TIMEOUT"} {
		t.Setenv(k, "")
	}
	t.Setenv("KATAGO_HARDWARE", "cpu-low")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BoardSize != 19 || cfg.Komi != 7.5 || cfg.Rules != "chinese" {
		t.Fatalf("unexpected game defaults %+v", cfg)
	}
	if cfg.Preset != katago.PresetMedium || cfg.Hardware != katago.HardwareCPULow {
		t.Fatalf("unexpected engine defaults %s %s", cfg.Preset, cfg.Hardware)
	}
	if cfg.AnalyzeTimeout != 120*time.Second || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Runtime().Validate(); err != nil {
		t.Fatalf("default runtime should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	overrides := filepath.Join(dir, "overrides.yaml")
	if err := os.WriteFile(overrides, []byte("maxVisits: 42\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KATAGO_PATH", "/opt/katago/katago")
	t.Setenv("KATAGO_HARDWARE", "gpu")
	t.Setenv("KATAGO_PRESET", "pro")
	t.Setenv("KATAGO_EXTRA_ARGS", `-override-config "logDir=/tmp/kata logs"`)
	t.Setenv("KATAGO_OVERRIDES_FILE", overrides)
	t.Setenv("BOARD_SIZE", "9")
	t.Setenv("KOMI", "6.5")
	t.Setenv("RULES", "Japanese")
	t.Setenv("ANALYZE_TIMEOUT", "45")
	t.Setenv("ANALYSIS_CACHE_TTL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ExtraArgs) != 2 || cfg.ExtraArgs[1] != "logDir=/tmp/kata logs" {
		t.Fatalf("extra args not shell-split: %q", cfg.ExtraArgs)
	}
	if cfg.Overrides.MaxVisits == nil || *cfg.Overrides.MaxVisits != 42 {
		t.Fatalf("overrides file not loaded")
	}
	rc := cfg.Runtime()
	if rc.BoardSize != 9 || rc.Komi != 6.5 || rc.Rules != "japanese" || rc.Preset != katago.PresetPro {
		t.Fatalf("unexpected runtime %+v", rc)
	}
	if cfg.AnalyzeTimeout != 45*time.Second || cfg.AnalysisCacheTTL != 10*time.Minute {
		t.Fatalf("durations not parsed: %v %v", cfg.AnalyzeTimeout, cfg.AnalysisCacheTTL)
	}
}

func TestLoadRejectsBadEngineSettings(t *testing.T) {
	t.Setenv("KATAGO_HARDWARE", "tpu")
	if _, err := Load(); err == nil {
		t.Fatalf("unknown hardware must fail")
	}
	t.Setenv("KATAGO_HARDWARE", "cpu-low")
	t.Setenv("KATAGO_PRESET", "impossible")
	if _, err := Load(); err == nil {
		t.Fatalf("unknown preset must fail")
	}
	t.Setenv("KATAGO_PRESET", "")
	t.Setenv("KATAGO_EXTRA_ARGS", `"unterminated`)
	if _, err := Load(); err == nil {
		t.Fatalf("bad quoting must fail")
	}
}
