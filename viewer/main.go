// The viewer serves generated self-play games over HTTP: a paginated game
// index, per-game decision rows, aggregate stats, and a websocket replay
// stream. DuckDB queries the parquet batches in place; nothing is
// imported or copied.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	addr := flag.String("addr", ":8091", "HTTP listen address")
	dataDir := flag.String("data-dir", "data/generated", "Directory containing training parquet batches")
	refresh := flag.Duration("refresh", 30*time.Second, "How often to rescan the data directory")
	replayDelay := flag.Duration("replay-delay", 400*time.Millisecond, "Pacing between moves on the replay websocket")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cache := NewDBCache(*dataDir, *refresh)
	if _, err := cache.Get(); err != nil {
		log.Fatal().Err(err).Str("data_dir", *dataDir).Msg("failed to open data directory")
	}

	srv := newServer(cache, *replayDelay)

	log.Info().Str("addr", *addr).Str("data_dir", *dataDir).Msg("viewer listening")
	if err := http.ListenAndServe(*addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
