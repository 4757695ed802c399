package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"knucklebones/executor/inference"
	"knucklebones/executor/mcts"
	"knucklebones/executor/selfplay"
	"knucklebones/store"
)

func main() {
	modelPath := flag.String("model", "", "Path to ONNX model (empty uses the heuristic oracle)")
	outDir := flag.String("out-dir", "debug_games", "Output directory for the recorded game")
	sims := flag.Int("sims", 200, "Number of MCTS simulations per placement")
	cpuct := flag.Float64("cpuct", 1.5, "MCTS exploration constant")
	temperature := flag.Float64("temperature", 1.0, "Sampling temperature for early placements")
	temperatureCutoff := flag.Int("temperature-cutoff", 15, "Placement count after which moves become greedy")
	cuda := flag.Bool("cuda", true, "Enable CUDA for inference")
	seed := flag.Int64("seed", 0, "Random seed (0 uses the current time)")
	flag.Parse()

	if !*cuda {
		os.Setenv("KB_ORT_DISABLE_CUDA", "1")
	}

	var client mcts.Predictor
	if *modelPath != "" {
		log.Printf("Loading model: %s", *modelPath)
		pool, err := inference.NewOnnxClientPool(*modelPath, 1)
		if err != nil {
			log.Fatalf("Failed to load model: %v", err)
		}
		defer pool.Close()
		client = pool
	} else {
		log.Printf("No model supplied, using heuristic oracle")
		client = inference.NewHeuristicClient()
	}

	cfg := selfplay.Config{
		Sims:              *sims,
		Cpuct:             float32(*cpuct),
		Temperature:       float32(*temperature),
		TemperatureCutoff: *temperatureCutoff,
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Printf("Generating debug game with %d sims, cpuct=%.2f, seed=%d", *sims, *cpuct, *seed)

	rows, result, err := selfplay.PlayGame(ctx, 0, cfg, client, rng, true, nil, nil)
	if err != nil {
		log.Fatalf("Failed to generate debug game: %v", err)
	}

	winner := "draw"
	if result.Winner >= 0 {
		winner = fmt.Sprintf("player %d", result.Winner+1)
	}
	log.Printf("Game complete: %d placements, %s (%d vs %d)", result.Placements, winner, result.ScoreP1, result.ScoreP2)

	outPath := filepath.Join(*outDir, fmt.Sprintf("debug_%d.parquet", *seed))
	if err := store.WriteGameParquet(outPath, rows); err != nil {
		log.Fatalf("Failed to write debug game: %v", err)
	}
	log.Printf("Recorded %d training rows to %s", len(rows), outPath)
}
