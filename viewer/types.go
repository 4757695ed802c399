package main

// GameSummary is one self-play game as listed by the games index.
type GameSummary struct {
	GameID string `json:"game_id"`
	// StartedNs is parsed from game_id for selfplay games with format:
	// selfplay_<unix_nano>_<worker>. Nil for other IDs.
	StartedNs *int64 `json:"started_ns"`
	Moves     int32  `json:"moves"`
	// Winner is 0, 1, or -1 for a draw.
	Winner     int32  `json:"winner"`
	Source     string `json:"source"`
	SourceFile string `json:"file"`
}

type GamesResponse struct {
	Total int           `json:"total"`
	Games []GameSummary `json:"games"`
}

// MoveView is one decision point of a replayed game.
type MoveView struct {
	Move     int32      `json:"move"`
	Player   int32      `json:"player"`
	Policy   int32      `json:"policy"`
	Probs    [3]float32 `json:"probs"`
	Value    float32    `json:"value"`
	Features []float32  `json:"features"`
}

type GameResponse struct {
	GameID string     `json:"game_id"`
	Winner int32      `json:"winner"`
	Moves  []MoveView `json:"moves"`
}

type StatsResponse struct {
	Games        int     `json:"games"`
	Rows         int     `json:"rows"`
	Draws        int     `json:"draws"`
	P1Wins       int     `json:"p1_wins"`
	P2Wins       int     `json:"p2_wins"`
	AvgPlacement float64 `json:"avg_placements"`
}
