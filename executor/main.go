package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"knucklebones/executor/inference"
	"knucklebones/executor/live"
	"knucklebones/executor/mcts"
	"knucklebones/executor/selfplay"
	"knucklebones/game"
	"knucklebones/store"
)

var totalMoves atomic.Int64
var totalInferences atomic.Int64
var totalGames atomic.Int64

type instrumentedClient struct {
	mcts.Predictor
}

func (c *instrumentedClient) Predict(state *game.GameState) ([]float32, float32, error) {
	totalInferences.Add(1)
	return c.Predictor.Predict(state)
}

type GameUpdate struct {
	WorkerID int
	Result   selfplay.GameResult
	Examples int
}

type gameWriteRequest struct {
	rows []store.TrainingRow
}

func main() {
	outDir := flag.String("out-dir", "data/generated", "Output directory for generated training parquet batches")
	workers := flag.Int("workers", 64, "Number of self-play workers")
	gamesPerFlush := flag.Int("games-per-flush", 50, "Number of games to buffer per parquet flush")
	maxGames := flag.Int64("max-games", 0, "If > 0, stop after generating this many games (across all workers)")
	sims := flag.Int("sims", 200, "MCTS simulations per placement")
	cpuct := flag.Float64("cpuct", 1.5, "PUCT exploration constant")
	temperature := flag.Float64("temperature", 1.0, "Visit-count temperature for early placements")
	temperatureCutoff := flag.Int("temperature-cutoff", 15, "Placements per game before temperature drops to 0")
	modelPath := flag.String("model", "", "Path to ONNX policy/value model (empty: heuristic oracle)")
	onnxSessions := flag.Int("onnx-sessions", 1, "Number of ONNX Runtime sessions run in parallel, each with its own batching loop")
	onnxBatchSize := flag.Int("onnx-batch-size", inference.DefaultBatchSize, "ONNX inference batch size")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", inference.DefaultBatchTimeout, "Max time to wait for filling an ONNX batch")
	liveAddr := flag.String("live-addr", "", "If set, serve live game snapshots over websocket on this address (e.g. :8090)")
	seed := flag.Int64("seed", 0, "Base RNG seed; 0 derives one from the clock")
	useTUI := flag.Bool("tui", false, "Show a terminal dashboard instead of log output")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// Pick the oracle: learned model when provided, heuristic otherwise.
	var predictor mcts.Predictor
	var closer interface{ Close() error }
	var statsProvider any
	if *modelPath != "" {
		if _, err := os.Stat(*modelPath); err != nil {
			log.Fatal().Err(err).Str("model", *modelPath).Msg("model file not found")
		}
		onnxCfg := inference.OnnxClientConfig{BatchSize: *onnxBatchSize, BatchTimeout: *onnxBatchTimeout}
		pool, err := inference.NewOnnxClientPoolWithConfig(*modelPath, *onnxSessions, onnxCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create onnx client pool")
		}
		predictor = pool
		closer = pool
		statsProvider = pool
		log.Info().Str("model", *modelPath).Int("sessions", *onnxSessions).Msg("onnx oracle initialized")
	} else {
		predictor = inference.NewHeuristicClient()
		log.Info().Msg("no model supplied, using heuristic oracle")
	}
	defer func() {
		if closer != nil {
			_ = closer.Close()
		}
	}()

	var client mcts.Predictor = &instrumentedClient{Predictor: predictor}

	// Each worker's MCTS keeps at most one inference in flight, so the
	// effective batch ceiling is the worker count.
	if *modelPath != "" && *onnxBatchSize > *workers {
		log.Warn().
			Int("batch_size", *onnxBatchSize).
			Int("workers", *workers).
			Msg("batch size exceeds max in-flight requests; batches will not fill")
	}

	var hub *live.Hub
	if *liveAddr != "" {
		hub = live.NewHub()
		mux := http.NewServeMux()
		mux.HandleFunc("/ws/live", hub.Handler)
		go func() {
			log.Info().Str("addr", *liveAddr).Msg("live viewer endpoint listening")
			if err := http.ListenAndServe(*liveAddr, mux); err != nil {
				log.Error().Err(err).Msg("live endpoint stopped")
			}
		}()
	}

	baseSeed := *seed
	if baseSeed == 0 {
		baseSeed = time.Now().UnixNano()
	}

	workerCfg := selfplay.Config{
		Sims:              *sims,
		Cpuct:             float32(*cpuct),
		Temperature:       float32(*temperature),
		TemperatureCutoff: *temperatureCutoff,
	}

	updates := make(chan GameUpdate, *workers)
	writeReqs := make(chan gameWriteRequest, (*workers)*4)

	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(*outDir, *gamesPerFlush, writeReqs)
		close(writerDone)
	}()

	log.Info().Int("workers", *workers).Int("sims", *sims).Msg("starting self-play")

	var workerWG sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			rng := rand.New(rand.NewSource(baseSeed + int64(workerID)*1000003))

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				var onState func(*game.GameState)
				if hub != nil && workerID == 0 {
					// Broadcast a single worker's games; one live board is
					// plenty for eyeballing progress.
					gameNo := totalGames.Load()
					onState = func(s *game.GameState) {
						hub.Broadcast(live.SnapshotFromState(fmt.Sprintf("live_%d", gameNo), workerID, s))
					}
				}

				rows, result, err := selfplay.PlayGame(ctx, workerID, workerCfg, client, rng, false,
					func() { totalMoves.Add(1) }, onState)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// Defect in this game only; drop it and move on.
					log.Error().Err(err).Int("worker", workerID).Msg("game aborted")
					continue
				}

				total := totalGames.Add(1)
				if *maxGames > 0 && total >= *maxGames {
					cancel()
				}

				if len(rows) > 0 {
					writeReqs <- gameWriteRequest{rows: rows}
					select {
					case updates <- GameUpdate{WorkerID: workerID, Result: result, Examples: len(rows)}:
					default:
					}
				}
			}
		}(i)
	}

	if *useTUI {
		runTUI(ctx, cancel, updates)
	} else {
		runLogLoop(ctx, updates, statsProvider)
	}

	log.Info().Msg("shutdown requested; waiting for workers to finish current games")
	workerWG.Wait()
	close(writeReqs)
	<-writerDone
	log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete, final parquet flush done")
}

func runLogLoop(ctx context.Context, updates <-chan GameUpdate, statsProvider any) {
	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			log.Info().
				Int("worker", update.WorkerID).
				Int32("winner", update.Result.Winner).
				Int32("placements", update.Result.Placements).
				Int("examples", update.Examples).
				Msg("game finished")
		case <-ticker.C:
			duration := time.Since(startTime)
			moves := totalMoves.Load()
			inferences := totalInferences.Load()
			ev := log.Info().
				Float64("games_per_sec", float64(totalGames.Load())/duration.Seconds()).
				Float64("moves_per_sec", float64(moves)/duration.Seconds()).
				Float64("inf_per_sec", float64(inferences)/duration.Seconds())
			if sp, ok := statsProvider.(interface{ Stats() inference.RuntimeStats }); ok {
				st := sp.Stats()
				ev = ev.
					Float64("batch_avg", st.AvgBatchSize).
					Int64("batch_last", st.LastBatchSize).
					Int("queue", st.QueueLen).
					Float64("run_avg_ms", st.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}

// parquetWriterLoop streams incoming games into a BatchWriter, finalizing
// the file every gamesPerFlush games and once more on shutdown. Rows hit
// disk as they arrive; only the parquet writer's own buffers sit in memory.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var w *store.BatchWriter

	finalize := func() {
		if w == nil {
			return
		}
		outPath, rows, games, err := w.Finalize()
		if err != nil {
			log.Error().Err(err).Msg("parquet flush failed")
		} else if rows > 0 {
			log.Info().Str("path", outPath).Int("games", games).Int("rows", rows).Msg("parquet flush ok")
		}
		w = nil
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}

		if w == nil {
			nw, err := store.NewBatchWriter(outDir)
			if err != nil {
				log.Error().Err(err).Str("out_dir", outDir).Msg("open parquet batch failed")
				continue
			}
			w = nw
		}

		if err := w.WriteRows(req.rows); err != nil {
			log.Error().Err(err).Msg("write parquet rows failed")
			finalize()
			continue
		}
		w.NoteGameWritten()

		if w.BufferedGames() >= gamesPerFlush {
			finalize()
		}
	}

	finalize()
}

// --- TUI dashboard ---

type tuiModel struct {
	gamesPlayed   int
	totalExamples int
	moves         int64
	inferences    int64
	startTime     time.Time
	recentGames   []string
	updates       chan GameUpdate
	cancel        context.CancelFunc
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		logMsg := fmt.Sprintf("Worker %d: winner %d, placements %d, ex %d",
			msg.WorkerID, msg.Result.Winner, msg.Result.Placements, msg.Examples)
		m.recentGames = append([]string{logMsg}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m tuiModel) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	inferencesPerSec := float64(m.inferences) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
		inferencesPerSec = 0
	}

	s := fmt.Sprintf("Games Played:     %d\n", m.gamesPlayed)
	s += fmt.Sprintf("Total Examples:   %d\n", m.totalExamples)
	s += fmt.Sprintf("Total Placements: %d\n", m.moves)
	s += fmt.Sprintf("Total Inferences: %d\n", m.inferences)
	s += fmt.Sprintf("Duration:         %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Games/Sec:        %.2f\n", gamesPerSec)
	s += fmt.Sprintf("Moves/Sec:        %.2f\n", movesPerSec)
	s += fmt.Sprintf("Inferences/Sec:   %.2f\n\n", inferencesPerSec)

	s += "Recent Games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}

func runTUI(ctx context.Context, cancel context.CancelFunc, updates chan GameUpdate) {
	m := tuiModel{
		startTime: time.Now(),
		updates:   updates,
		cancel:    cancel,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		log.Error().Err(err).Msg("tui stopped")
	}
}
