// Package live broadcasts in-progress self-play games to websocket
// viewers. The hub never blocks the workers: a slow or dead client is
// dropped rather than backing up game generation.
package live

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"knucklebones/game"
	"knucklebones/rules"
)

// Snapshot is the JSON frame sent to every connected viewer after each
// placement of a broadcast game.
type Snapshot struct {
	GameID  string       `json:"game_id"`
	Worker  int          `json:"worker"`
	Turn    int32        `json:"turn"`
	Phase   string       `json:"phase"`
	Player  int          `json:"player"`
	Die     int          `json:"die"`
	Boards  [2][][]int   `json:"boards"`
	Scores  [2]int       `json:"scores"`
	Outcome *GameOutcome `json:"outcome,omitempty"`
}

type GameOutcome struct {
	Winner int32 `json:"winner"` // 0, 1, or -1 for a draw
}

// SnapshotFromState flattens a state into a Snapshot.
func SnapshotFromState(gameID string, worker int, s *game.GameState) Snapshot {
	snap := Snapshot{
		GameID: gameID,
		Worker: worker,
		Turn:   s.Turn,
		Phase:  s.Phase.String(),
		Player: int(s.CurrentPlayer),
		Die:    int(s.CurrentDie),
	}
	for p := 0; p < 2; p++ {
		board := make([][]int, game.Columns)
		for col := 0; col < game.Columns; col++ {
			board[col] = make([]int, game.Rows)
			for row := 0; row < game.Rows; row++ {
				board[col][row] = int(s.Boards[p][col][row])
			}
		}
		snap.Boards[p] = board
		snap.Scores[p] = rules.GridScore(&s.Boards[p])
	}
	if s.Phase == game.PhaseEnded {
		outcome := &GameOutcome{Winner: -1}
		if winner, ok := rules.Winner(s); ok {
			outcome.Winner = int32(winner)
		}
		snap.Outcome = outcome
	}
	return snap
}

type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Snapshot
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The executor is a local dev tool; viewers connect from the
			// bundled frontend on another port.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Snapshot),
	}
}

// Handler upgrades the request and streams snapshots until the client
// disconnects.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	out := make(chan Snapshot, 64)
	h.mu.Lock()
	h.clients[conn] = out
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Str("remote", conn.RemoteAddr().String()).Int("viewers", n).Msg("viewer connected")

	// Reader goroutine: discard inbound frames, detect disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	for snap := range out {
		if err := conn.WriteJSON(snap); err != nil {
			h.drop(conn)
			return
		}
	}
	_ = conn.Close()
}

// Broadcast fans one snapshot out to every connected viewer. Clients whose
// send buffer is full are dropped.
func (h *Hub) Broadcast(snap Snapshot) {
	h.mu.Lock()
	var stale []*websocket.Conn
	for conn, out := range h.clients {
		select {
		case out <- snap:
		default:
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.drop(conn)
	}
}

// Viewers returns the current client count.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	out, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(out)
	}
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}
