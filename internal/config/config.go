package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/park285/baduk-coach/internal/katago"
)

type AppConfig struct {
	HTTPAddr string

	KataGoPath      string
	NetworksDir     string
	NetworkFilename string
	ConfigPath      string
	ExtraArgs       []string
	Warmup          bool
	Hardware        katago.HardwareProfile
	Preset          katago.Preset
	OverridesFile   string
	Overrides       katago.Overrides

	BoardSize      int
	Komi           float64
	Rules          string
	AnalyzeTimeout time.Duration

	RedisURL         string
	AnalysisCacheTTL time.Duration
	DatabaseURL      string

	VerdictLocale      string
	VerdictTemplateDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		KataGoPath:       "katago",
		NetworksDir:      "katago/networks",
		BoardSize:        katago.DefaultBoardSize,
		Komi:             katago.DefaultKomi,
		Rules:            katago.DefaultRules,
		AnalyzeTimeout:   120 * time.Second,
		AnalysisCacheTTL: 6 * time.Hour,
		VerdictLocale:    "en",
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("KATAGO_PATH"); v != "" {
		cfg.KataGoPath = v
	}
	if v := env("KATAGO_NETWORKS_DIR"); v != "" {
		cfg.NetworksDir = v
	}
	cfg.NetworkFilename = env("KATAGO_NETWORK")
	if v := env("KATAGO_WARMUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Warmup = b
		}
	}
	cfg.ConfigPath = env("KATAGO_CONFIG_PATH")

	if v := env("KATAGO_EXTRA_ARGS"); v != "" {
		args, err := shellquote.Split(v)
		if err != nil {
			return nil, fmt.Errorf("KATAGO_EXTRA_ARGS: %w", err)
		}
		cfg.ExtraArgs = args
	}

	hw, err := katago.ParseHardware(env("KATAGO_HARDWARE"))
	if err != nil {
		return nil, fmt.Errorf("KATAGO_HARDWARE: %w", err)
	}
	cfg.Hardware = hw
	preset, err := katago.ParsePreset(env("KATAGO_PRESET"))
	if err != nil {
		return nil, fmt.Errorf("KATAGO_PRESET: %w", err)
	}
	cfg.Preset = preset

	cfg.OverridesFile = env("KATAGO_OVERRIDES_FILE")
	if cfg.Overrides, err = katago.LoadOverridesFile(cfg.OverridesFile); err != nil {
		return nil, err
	}

	if v := env("BOARD_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BoardSize = n
		}
	}
	if v := env("KOMI"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Komi = f
		}
	}
	if v := env("RULES"); v != "" {
		cfg.Rules = strings.ToLower(v)
	}
	if d, ok := duration("ANALYZE_TIMEOUT"); ok {
		cfg.AnalyzeTimeout = d
	}

	cfg.RedisURL = env("REDIS_URL")
	if d, ok := duration("ANALYSIS_CACHE_TTL"); ok {
		cfg.AnalysisCacheTTL = d
	}
	cfg.DatabaseURL = env("DATABASE_URL")

	if v := env("VERDICT_LOCALE"); v != "" {
		cfg.VerdictLocale = v
	}
	cfg.VerdictTemplateDir = env("VERDICT_TEMPLATE_DIR")

	if cfg.KataGoPath == "" {
		return nil, errors.New("KATAGO_PATH is required")
	}
	return cfg, nil
}

// Runtime builds the engine launch configuration.
func (c *AppConfig) Runtime() katago.RuntimeConfig {
	return katago.RuntimeConfig{
		BoardSize:        c.BoardSize,
		Komi:             c.Komi,
		Rules:            c.Rules,
		ExecPath:         c.KataGoPath,
		NetworksDir:      c.NetworksDir,
		NetworkFilename:  c.NetworkFilename,
		GeneratedCfgPath: c.ConfigPath,
		ExtraArgs:        c.ExtraArgs,
		Hardware:         c.Hardware,
		Preset:           c.Preset,
		Overrides:        c.Overrides,
		AnalyzeTimeout:   c.AnalyzeTimeout,
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// duration accepts Go durations ("90s") or plain seconds ("90").
func duration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
