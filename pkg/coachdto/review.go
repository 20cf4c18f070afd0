package coachdto

import "time"

type Review struct {
	ID          string    `json:"id"`
	Ply         int       `json:"ply"`
	Color       string    `json:"color"`
	Move        string    `json:"move"`
	BestMove    string    `json:"bestMove,omitempty"`
	BotMove     string    `json:"botMove"`
	Path        string    `json:"path"`
	Label       string    `json:"label"`
	LossWinrate float64   `json:"lossWinrate"`
	LossScore   float64   `json:"lossPoints"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Reviews struct {
	Items []Review `json:"items"`
}
