package coachdto

import "time"

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigPatch selects a different preset, hardware profile or network.
// Empty fields keep the current value.
type ConfigPatch struct {
	Preset          string `json:"preset,omitempty"`
	Hardware        string `json:"hardware,omitempty"`
	NetworkFilename string `json:"networkFilename,omitempty"`
}

type EngineSettings struct {
	NumAnalysisThreads        int     `json:"numAnalysisThreads"`
	NumSearchThreads          int     `json:"numSearchThreads"`
	NNCacheSizePowerOfTwo     int     `json:"nnCacheSizePowerOfTwo"`
	NNMutexPoolSizePowerOfTwo int     `json:"nnMutexPoolSizePowerOfTwo"`
	NNMaxBatchSize            int     `json:"nnMaxBatchSize"`
	LagBuffer                 float64 `json:"lagBuffer"`
	MaxVisits                 int     `json:"maxVisits"`
	AnalysisPVLen             int     `json:"analysisPVLen"`
	WideRootNoise             float64 `json:"wideRootNoise"`
}

type Config struct {
	BoardSize        int            `json:"boardSize"`
	Komi             float64        `json:"komi"`
	Rules            string         `json:"rules"`
	ExecPath         string         `json:"katagoExePath"`
	NetworksDir      string         `json:"networksDir"`
	NetworkFilename  string         `json:"networkFilename"`
	GeneratedCfgPath string         `json:"generatedCfgPath"`
	Hardware         string         `json:"hardware"`
	Preset           string         `json:"preset"`
	Overrides        map[string]any `json:"overrides"`
	Effective        EngineSettings `json:"effective"`
	EngineState      string         `json:"engineState"`
	ResponseShape    string         `json:"responseShape,omitempty"`
}

type Network struct {
	Filename string    `json:"filename"`
	FullPath string    `json:"fullpath"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
}

type Networks struct {
	Dir   string    `json:"dir"`
	Files []Network `json:"files"`
}
