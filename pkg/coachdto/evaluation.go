package coachdto

type Candidate struct {
	Move    string   `json:"move"`
	Order   int      `json:"order"`
	Prior   float64  `json:"prior"`
	Winrate float64  `json:"winrate"`
	Score   float64  `json:"scoreMean"`
	PV      []string `json:"pv"`
}

type BotMove struct {
	BotMove    string      `json:"botMove"`
	Candidates []Candidate `json:"candidates"`
}

type UserMove struct {
	Move            string      `json:"move"`
	Color           string      `json:"color"`
	Recommendations []Candidate `json:"recommendations"`
}

type MetricsDebug struct {
	SideToMoveBaseline  string  `json:"stmBaseline"`
	WinrateSTMBaseline  float64 `json:"wrSTMBaseline"`
	WinrateUserBaseline float64 `json:"wrUserBaseline"`
	SideToMoveAfterUser string  `json:"stmAfterUser"`
	WinrateSTMAfterUser float64 `json:"wrSTMAfterUser"`
	WinrateUserAfter    float64 `json:"wrUserAfter"`
	BaselineBestMove    string  `json:"baselineBestMove,omitempty"`
	BaselineBestWinrate float64 `json:"baselineBestWinrate"`
	BaselineBestScore   float64 `json:"baselineBestScore"`
	EngineCalls         int     `json:"engineCalls"`
}

type Metrics struct {
	BestWinrateBefore float64      `json:"bestWRPre"`
	UserWinrate       float64      `json:"wrAfterUser"`
	LossWinrate       float64      `json:"lossWinrate"`
	BestScoreBefore   float64      `json:"bestScorePre"`
	UserScore         float64      `json:"scoreAfterUser"`
	LossScore         float64      `json:"lossPoints"`
	AbsLossWinrate    float64      `json:"absLossWinrate"`
	AbsLossScore      float64      `json:"absLossPoints"`
	IsImprovement     bool         `json:"isImprovement"`
	Path              string       `json:"path"`
	Debug             MetricsDebug `json:"debug"`
}

type Verdict struct {
	Label string `json:"label"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type State struct {
	Moves     []string    `json:"moves"`
	History   [][2]string `json:"history"`
	NextColor string      `json:"nextColor"`
}

// Evaluation is the play-eval response.
type Evaluation struct {
	ReviewID  string    `json:"reviewId,omitempty"`
	Bot       BotMove   `json:"MovBot"`
	User      UserMove  `json:"MovUser"`
	Metrics   Metrics   `json:"metrics"`
	Verdict   Verdict   `json:"verdict"`
	Ownership []float64 `json:"ownership"`
	State     State     `json:"state"`
}
