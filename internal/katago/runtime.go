package katago

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"gopkg.in/yaml.v3"

	"github.com/park285/baduk-coach/internal/baduk"
)

type HardwareProfile string

const (
	HardwareCPULow HardwareProfile = "cpu-low"
	HardwareCPUMid HardwareProfile = "cpu-mid"
	HardwareGPU    HardwareProfile = "gpu"
	HardwareAuto   HardwareProfile = "auto"
)

type Preset string

const (
	PresetEasy   Preset = "easy"
	PresetMedium Preset = "medium"
	PresetHard   Preset = "hard"
	PresetPro    Preset = "pro"
)

const (
	DefaultConfigFile = "analysis_web.cfg"
	autoMidMemory     = 16 << 30
	autoMidCPUs       = 8
)

var (
	ErrUnknownHardware = errors.New("unknown hardware profile")
	ErrUnknownPreset   = errors.New("unknown difficulty preset")
	ErrNoNetwork       = errors.New("no network file available")
)

type HardwareSettings struct {
	NumAnalysisThreads        int     `json:"numAnalysisThreads"`
	NumSearchThreads          int     `json:"numSearchThreads"`
	NNCacheSizePowerOfTwo     int     `json:"nnCacheSizePowerOfTwo"`
	NNMutexPoolSizePowerOfTwo int     `json:"nnMutexPoolSizePowerOfTwo"`
	NNMaxBatchSize            int     `json:"nnMaxBatchSize"`
	LagBuffer                 float64 `json:"lagBuffer"`
}

type PresetSettings struct {
	MaxVisits     int     `json:"maxVisits"`
	AnalysisPVLen int     `json:"analysisPVLen"`
	WideRootNoise float64 `json:"wideRootNoise"`
}

var hardwareTable = map[HardwareProfile]HardwareSettings{
	HardwareCPULow: {NumAnalysisThreads: 1, NumSearchThreads: 1, NNCacheSizePowerOfTwo: 20, NNMutexPoolSizePowerOfTwo: 17, NNMaxBatchSize: 4, LagBuffer: 0.06},
	HardwareCPUMid: {NumAnalysisThreads: 1, NumSearchThreads: 8, NNCacheSizePowerOfTwo: 21, NNMutexPoolSizePowerOfTwo: 18, NNMaxBatchSize: 8, LagBuffer: 0.05},
	HardwareGPU:    {NumAnalysisThreads: 1, NumSearchThreads: 12, NNCacheSizePowerOfTwo: 22, NNMutexPoolSizePowerOfTwo: 18, NNMaxBatchSize: 32, LagBuffer: 0.03},
}

var presetTable = map[Preset]PresetSettings{
	PresetEasy:   {MaxVisits: 60, AnalysisPVLen: 5, WideRootNoise: 0.05},
	PresetMedium: {MaxVisits: 120, AnalysisPVLen: 6, WideRootNoise: 0.04},
	PresetHard:   {MaxVisits: 400, AnalysisPVLen: 6, WideRootNoise: 0.02},
	PresetPro:    {MaxVisits: 1000, AnalysisPVLen: 7, WideRootNoise: 0.01},
}

// ParseHardware accepts a profile name or "auto".
func ParseHardware(s string) (HardwareProfile, error) {
	h := HardwareProfile(strings.ToLower(strings.TrimSpace(s)))
	if h == "" || h == HardwareAuto {
		return DetectHardware(), nil
	}
	if _, ok := hardwareTable[h]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHardware, s)
	}
	return h, nil
}

// DetectHardware never picks gpu; that has to be asked for.
func DetectHardware() HardwareProfile {
	if memory.TotalMemory() >= autoMidMemory && runtime.NumCPU() >= autoMidCPUs {
		return HardwareCPUMid
	}
	return HardwareCPULow
}

func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PresetMedium, nil
	}
	if _, ok := presetTable[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
	return p, nil
}

// Overrides replace individual resolved values. Nil fields leave the
// profile/preset value alone.
type Overrides struct {
	MaxVisits                 *int     `json:"maxVisits,omitempty" yaml:"maxVisits,omitempty"`
	AnalysisPVLen             *int     `json:"analysisPVLen,omitempty" yaml:"analysisPVLen,omitempty"`
	WideRootNoise             *float64 `json:"wideRootNoise,omitempty" yaml:"wideRootNoise,omitempty"`
	NumAnalysisThreads        *int     `json:"numAnalysisThreads,omitempty" yaml:"numAnalysisThreads,omitempty"`
	NumSearchThreads          *int     `json:"numSearchThreads,omitempty" yaml:"numSearchThreads,omitempty"`
	NNCacheSizePowerOfTwo     *int     `json:"nnCacheSizePowerOfTwo,omitempty" yaml:"nnCacheSizePowerOfTwo,omitempty"`
	NNMutexPoolSizePowerOfTwo *int     `json:"nnMutexPoolSizePowerOfTwo,omitempty" yaml:"nnMutexPoolSizePowerOfTwo,omitempty"`
	NNMaxBatchSize            *int     `json:"nnMaxBatchSize,omitempty" yaml:"nnMaxBatchSize,omitempty"`
}

// Merge returns o with every field set in next taking precedence.
func (o Overrides) Merge(next Overrides) Overrides {
	out := o
	if next.MaxVisits != nil {
		out.MaxVisits = next.MaxVisits
	}
	if next.AnalysisPVLen != nil {
		out.AnalysisPVLen = next.AnalysisPVLen
	}
	if next.WideRootNoise != nil {
		out.WideRootNoise = next.WideRootNoise
	}
	if next.NumAnalysisThreads != nil {
		out.NumAnalysisThreads = next.NumAnalysisThreads
	}
	if next.NumSearchThreads != nil {
		out.NumSearchThreads = next.NumSearchThreads
	}
	if next.NNCacheSizePowerOfTwo != nil {
		out.NNCacheSizePowerOfTwo = next.NNCacheSizePowerOfTwo
	}
	if next.NNMutexPoolSizePowerOfTwo != nil {
		out.NNMutexPoolSizePowerOfTwo = next.NNMutexPoolSizePowerOfTwo
	}
	if next.NNMaxBatchSize != nil {
		out.NNMaxBatchSize = next.NNMaxBatchSize
	}
	return out
}

func (o Overrides) Validate() error {
	positive := map[string]*int{
		"maxVisits":          o.MaxVisits,
		"analysisPVLen":      o.AnalysisPVLen,
		"numAnalysisThreads": o.NumAnalysisThreads,
		"numSearchThreads":   o.NumSearchThreads,
		"nnMaxBatchSize":     o.NNMaxBatchSize,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("override %s must be positive, got %d", name, *v)
		}
	}
	if o.WideRootNoise != nil && (*o.WideRootNoise < 0 || *o.WideRootNoise > 1) {
		return fmt.Errorf("override wideRootNoise must be within [0,1], got %v", *o.WideRootNoise)
	}
	return nil
}

// LoadOverridesFile reads overrides from a YAML file. A missing file is not
// an error.
func LoadOverridesFile(path string) (Overrides, error) {
	var o Overrides
	if strings.TrimSpace(path) == "" {
		return o, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return o, nil
		}
		return o, fmt.Errorf("read overrides: %w", err)
	}
	if err := yaml.Unmarshal(b, &o); err != nil {
		return o, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return o, o.Validate()
}

// Effective is the fully resolved engine configuration written to the
// generated config file.
type Effective struct {
	HardwareSettings
	PresetSettings
	IgnorePreRootHistory     bool   `json:"ignorePreRootHistory"`
	ReportAnalysisWinratesAs string `json:"reportAnalysisWinratesAs"`
	AllowIncludeOwnership    bool   `json:"allowIncludeOwnership"`
	AllowIncludePolicy       bool   `json:"allowIncludePolicy"`
}

// RuntimeConfig is everything needed to launch and talk to one engine.
type RuntimeConfig struct {
	BoardSize        int             `json:"boardSize"`
	Komi             float64         `json:"komi"`
	Rules            string          `json:"rules"`
	ExecPath         string          `json:"katagoExePath"`
	NetworksDir      string          `json:"networksDir"`
	NetworkFilename  string          `json:"networkFilename"`
	GeneratedCfgPath string          `json:"generatedCfgPath"`
	ExtraArgs        []string        `json:"extraArgs,omitempty"`
	Hardware         HardwareProfile `json:"hardware"`
	Preset           Preset          `json:"preset"`
	Overrides        Overrides       `json:"overrides"`
	AnalyzeTimeout   time.Duration   `json:"analyzeTimeout"`
}

func (rc RuntimeConfig) Validate() error {
	if rc.BoardSize < baduk.MinBoardSize || rc.BoardSize > baduk.MaxBoardSize {
		return fmt.Errorf("board size %d out of range", rc.BoardSize)
	}
	switch rc.Rules {
	case "chinese", "japanese", "korean", "aga", "tromp-taylor", "new-zealand":
	default:
		return fmt.Errorf("unsupported rules %q", rc.Rules)
	}
	if _, ok := hardwareTable[rc.Hardware]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHardware, rc.Hardware)
	}
	if _, ok := presetTable[rc.Preset]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, rc.Preset)
	}
	return rc.Overrides.Validate()
}

// Resolve layers preset over hardware profile, then overrides.
func (rc RuntimeConfig) Resolve() (Effective, error) {
	hw, ok := hardwareTable[rc.Hardware]
	if !ok {
		return Effective{}, fmt.Errorf("%w: %q", ErrUnknownHardware, rc.Hardware)
	}
	p, ok := presetTable[rc.Preset]
	if !ok {
		return Effective{}, fmt.Errorf("%w: %q", ErrUnknownPreset, rc.Preset)
	}
	eff := Effective{
		HardwareSettings:         hw,
		PresetSettings:           p,
		IgnorePreRootHistory:     true,
		ReportAnalysisWinratesAs: "SIDETOMOVE",
		AllowIncludeOwnership:    true,
		AllowIncludePolicy:       true,
	}
	o := rc.Overrides
	setInt(&eff.MaxVisits, o.MaxVisits)
	setInt(&eff.AnalysisPVLen, o.AnalysisPVLen)
	setInt(&eff.NumAnalysisThreads, o.NumAnalysisThreads)
	setInt(&eff.NumSearchThreads, o.NumSearchThreads)
	setInt(&eff.NNCacheSizePowerOfTwo, o.NNCacheSizePowerOfTwo)
	setInt(&eff.NNMutexPoolSizePowerOfTwo, o.NNMutexPoolSizePowerOfTwo)
	setInt(&eff.NNMaxBatchSize, o.NNMaxBatchSize)
	if o.WideRootNoise != nil {
		eff.WideRootNoise = *o.WideRootNoise
	}
	return eff, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ConfigPath is where the generated engine config is written.
func (rc RuntimeConfig) ConfigPath() string {
	if rc.GeneratedCfgPath != "" {
		return rc.GeneratedCfgPath
	}
	return filepath.Join(filepath.Dir(rc.NetworksDir), DefaultConfigFile)
}

func (rc RuntimeConfig) ModelPath() string {
	return filepath.Join(rc.NetworksDir, rc.NetworkFilename)
}

// LaunchArgs are the engine arguments for analysis mode.
func (rc RuntimeConfig) LaunchArgs() []string {
	args := []string{"analysis", "-config", rc.ConfigPath(), "-model", rc.ModelPath()}
	return append(args, rc.ExtraArgs...)
}

// Params derives the per-request parameters from the resolved config.
func (rc RuntimeConfig) Params(eff Effective) Params {
	p := DefaultParams()
	p.Rules = rc.Rules
	p.Komi = rc.Komi
	p.BoardSize = rc.BoardSize
	p.MaxVisits = eff.MaxVisits
	if rc.AnalyzeTimeout > 0 {
		p.Timeout = rc.AnalyzeTimeout
	}
	return p
}

// RenderAnalysisConfig produces the engine config file body.
func RenderAnalysisConfig(rc RuntimeConfig, eff Effective) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	lines := []string{
		fmt.Sprintf("maxBoardXSizeForNNBuffer = %d", rc.BoardSize),
		fmt.Sprintf("maxBoardYSizeForNNBuffer = %d", rc.BoardSize),
		"requireMaxBoardSize = true",
		"komi = " + f(rc.Komi),
		"rules = " + rc.Rules,
		"",
		"# performance",
		fmt.Sprintf("numAnalysisThreads = %d", eff.NumAnalysisThreads),
		fmt.Sprintf("numSearchThreads = %d", eff.NumSearchThreads),
		fmt.Sprintf("nnCacheSizePowerOfTwo = %d", eff.NNCacheSizePowerOfTwo),
		fmt.Sprintf("nnMutexPoolSizePowerOfTwo = %d", eff.NNMutexPoolSizePowerOfTwo),
		fmt.Sprintf("nnMaxBatchSize = %d", eff.NNMaxBatchSize),
		fmt.Sprintf("maxVisits = %d", eff.MaxVisits),
		fmt.Sprintf("analysisPVLen = %d", eff.AnalysisPVLen),
		"wideRootNoise = " + f(eff.WideRootNoise),
		fmt.Sprintf("ignorePreRootHistory = %t", eff.IgnorePreRootHistory),
		"",
		"# reporting",
		"reportAnalysisWinratesAs = " + eff.ReportAnalysisWinratesAs,
		"logToStderr = true",
		"logAllMoves = false",
		"logSearchInfo = false",
		"",
		fmt.Sprintf("allowIncludeOwnership = %t", eff.AllowIncludeOwnership),
		fmt.Sprintf("allowIncludePolicy = %t", eff.AllowIncludePolicy),
		"",
	}
	return strings.Join(lines, "\n")
}

// WriteAnalysisConfig writes the generated config atomically.
func WriteAnalysisConfig(rc RuntimeConfig, eff Effective) (string, error) {
	path := rc.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(RenderAnalysisConfig(rc, eff)), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("install config: %w", err)
	}
	return path, nil
}

type NetworkFile struct {
	Filename string    `json:"filename"`
	FullPath string    `json:"fullpath"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
}

func isNetworkFile(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".bin.gz") || strings.HasSuffix(n, ".txt.gz")
}

// ListNetworks returns model files in dir sorted by name.
func ListNetworks(dir string) ([]NetworkFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read networks dir: %w", err)
	}
	out := make([]NetworkFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isNetworkFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, NetworkFile{
			Filename: e.Name(),
			FullPath: filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// LatestNetwork picks the most recently modified model file.
func LatestNetwork(dir string) (string, error) {
	files, err := ListNetworks(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoNetwork, dir)
	}
	latest := files[0]
	for _, f := range files[1:] {
		if f.ModTime.After(latest.ModTime) {
			latest = f
		}
	}
	return latest.Filename, nil
}

// HasNetwork reports whether name is a model file inside dir. Names with a
// path component are rejected.
func HasNetwork(dir, name string) bool {
	if name == "" || filepath.Base(name) != name || !isNetworkFile(name) {
		return false
	}
	st, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !st.IsDir()
}
