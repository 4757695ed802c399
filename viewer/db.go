package main

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DBCache maintains a cached DuckDB connection with a view over the
// training parquet batches, refreshed periodically as the executor drops
// new files into the data directory.
type DBCache struct {
	dataDir     string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time
}

func NewDBCache(dataDir string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		dataDir:     dataDir,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if stale.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()

	pattern := filepath.Join(c.dataDir, "*.parquet")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	newDB, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if len(matches) == 0 {
		// Typed empty view so queries still parse before the first flush.
		_, err = newDB.Exec(`CREATE VIEW training AS SELECT
			'' AS game_id, 0::INT AS move, 0::INT AS player,
			''::BLOB AS features, 0::INT AS feature_dim,
			0::INT AS policy, 0.0::FLOAT AS policy_p0, 0.0::FLOAT AS policy_p1,
			0.0::FLOAT AS policy_p2, 0.0::FLOAT AS value, '' AS source,
			'' AS source_file
			WHERE 1=0`)
	} else {
		_, err = newDB.Exec(fmt.Sprintf(
			`CREATE VIEW training AS SELECT *, filename AS source_file
			 FROM read_parquet(%s, filename = true)`,
			sqlQuote(pattern)))
	}
	if err != nil {
		_ = newDB.Close()
		return nil, fmt.Errorf("create training view: %w", err)
	}

	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()

	log.Debug().
		Int("files", len(matches)).
		Dur("took", time.Since(start)).
		Msg("refreshed duckdb view")
	return c.db, nil
}

func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// parseStartedNs extracts the timestamp from selfplay_<unix_nano>_<worker>.
func parseStartedNs(gameID string) *int64 {
	parts := strings.Split(gameID, "_")
	if len(parts) != 3 || parts[0] != "selfplay" {
		return nil
	}
	ns, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	return &ns
}

// listGames returns the paginated game index, newest games first.
func (c *DBCache) listGames(limit, offset int) (GamesResponse, error) {
	db, err := c.Get()
	if err != nil {
		return GamesResponse{}, err
	}

	var total int
	if err := db.QueryRow(`SELECT count(DISTINCT game_id) FROM training`).Scan(&total); err != nil {
		return GamesResponse{}, fmt.Errorf("count games: %w", err)
	}

	// Winner per game: some player's rows carry value 1, or it is a draw.
	rows, err := db.Query(`
		SELECT game_id,
		       count(*) AS moves,
		       coalesce(max(CASE WHEN value > 0 THEN player END), -1) AS winner,
		       min(source) AS source,
		       min(source_file) AS source_file
		FROM training
		GROUP BY game_id
		ORDER BY game_id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return GamesResponse{}, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	out := GamesResponse{Total: total}
	for rows.Next() {
		var g GameSummary
		if err := rows.Scan(&g.GameID, &g.Moves, &g.Winner, &g.Source, &g.SourceFile); err != nil {
			return GamesResponse{}, err
		}
		g.StartedNs = parseStartedNs(g.GameID)
		out.Games = append(out.Games, g)
	}
	return out, rows.Err()
}

// gameMoves returns every decision point of one game in move order.
func (c *DBCache) gameMoves(gameID string) (GameResponse, error) {
	db, err := c.Get()
	if err != nil {
		return GameResponse{}, err
	}

	rows, err := db.Query(`
		SELECT move, player, policy, policy_p0, policy_p1, policy_p2, value, features
		FROM training
		WHERE game_id = ?
		ORDER BY move`, gameID)
	if err != nil {
		return GameResponse{}, fmt.Errorf("load game %s: %w", gameID, err)
	}
	defer rows.Close()

	out := GameResponse{GameID: gameID, Winner: -1}
	for rows.Next() {
		var mv MoveView
		var features []byte
		if err := rows.Scan(&mv.Move, &mv.Player, &mv.Policy, &mv.Probs[0], &mv.Probs[1], &mv.Probs[2], &mv.Value, &features); err != nil {
			return GameResponse{}, err
		}
		mv.Features = decodeFeatures(features)
		if mv.Value > 0 {
			out.Winner = mv.Player
		}
		out.Moves = append(out.Moves, mv)
	}
	return out, rows.Err()
}

func (c *DBCache) stats() (StatsResponse, error) {
	db, err := c.Get()
	if err != nil {
		return StatsResponse{}, err
	}

	var out StatsResponse
	err = db.QueryRow(`
		WITH games AS (
			SELECT game_id,
			       count(*) AS moves,
			       coalesce(max(CASE WHEN value > 0 THEN player END), -1) AS winner
			FROM training
			GROUP BY game_id
		)
		SELECT count(*),
		       coalesce(sum(moves), 0),
		       coalesce(sum(CASE WHEN winner = -1 THEN 1 ELSE 0 END), 0),
		       coalesce(sum(CASE WHEN winner = 0 THEN 1 ELSE 0 END), 0),
		       coalesce(sum(CASE WHEN winner = 1 THEN 1 ELSE 0 END), 0),
		       coalesce(avg(moves), 0)
		FROM games`).Scan(&out.Games, &out.Rows, &out.Draws, &out.P1Wins, &out.P2Wins, &out.AvgPlacement)
	if err != nil {
		return StatsResponse{}, fmt.Errorf("stats: %w", err)
	}
	return out, nil
}
