package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"knucklebones/executor/convert"
)

type server struct {
	cache       *DBCache
	replayDelay time.Duration
	upgrader    websocket.Upgrader
}

func newServer(cache *DBCache, replayDelay time.Duration) *server {
	return &server{
		cache:       cache,
		replayDelay: replayDelay,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/game", s.handleGame)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws/replay", s.handleReplay)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func (s *server) handleGames(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	resp, err := s.cache.listGames(limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("list games")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

func (s *server) handleGame(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("id")
	if gameID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	resp, err := s.cache.gameMoves(gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("load game")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(resp.Moves) == 0 {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cache.stats()
	if err != nil {
		log.Error().Err(err).Msg("stats")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

// handleReplay streams one recorded game move by move over a websocket,
// paced by the replay delay, then closes.
func (s *server) handleReplay(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("id")
	if gameID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	resp, err := s.cache.gameMoves(gameID)
	if err != nil || len(resp.Moves) == 0 {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for _, mv := range resp.Moves {
		if err := conn.WriteJSON(mv); err != nil {
			return
		}
		time.Sleep(s.replayDelay)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay done"),
		time.Now().Add(time.Second))
}

func decodeFeatures(data []byte) []float32 {
	if len(data) != convert.BufferSize {
		return nil
	}
	return convert.BytesToFloat32(data)
}
