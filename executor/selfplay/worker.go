package selfplay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"knucklebones/executor/convert"
	"knucklebones/executor/mcts"
	"knucklebones/game"
	"knucklebones/rules"
	"knucklebones/store"
)

// Config controls one self-play worker's games.
type Config struct {
	// Sims is the MCTS simulation budget per placement.
	Sims int
	// Cpuct is the PUCT exploration constant.
	Cpuct float32
	// Temperature applies to the first TemperatureCutoff placements;
	// after that the search plays deterministically (temperature 0).
	Temperature       float32
	TemperatureCutoff int
}

type GameResult struct {
	// Winner is 0 or 1, or -1 for a draw.
	Winner     int32
	Placements int32
	ScoreP1    int
	ScoreP2    int
}

// PlayGame drives one game from NewGame to the end and returns one
// training row per decision point, with outcomes filled in retroactively.
//
// The rng is owned by this game: die rolls and temperature sampling both
// draw from it, so a fixed seed and oracle replay deterministically. If a
// transition or oracle error occurs mid-game the rows are discarded and
// the error returned; other concurrent games are unaffected.
func PlayGame(ctx context.Context, workerID int, cfg Config, client mcts.Predictor, rng *rand.Rand, verbose bool, onStep func(), onState func(*game.GameState)) ([]store.TrainingRow, GameResult, error) {
	gameID := fmt.Sprintf("selfplay_%d_%d", time.Now().UnixNano(), workerID)

	state := rules.NewGame()
	rows := make([]store.TrainingRow, 0, 24)
	placements := 0

	for state.Phase != game.PhaseEnded {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, GameResult{Winner: -1, Placements: state.Turn}, ctx.Err()
			default:
			}
		}

		switch state.Phase {
		case game.PhaseRolling:
			next, err := rules.ApplyRoll(state, rng.Intn(game.MaxFace)+1)
			if err != nil {
				return nil, GameResult{Winner: -1, Placements: state.Turn}, err
			}
			state = next

		case game.PhasePlacing:
			temperature := cfg.Temperature
			if placements >= cfg.TemperatureCutoff {
				temperature = 0
			}

			searcher := &mcts.MCTS{
				Config: mcts.Config{Cpuct: cfg.Cpuct, Temperature: temperature},
				Client: client,
				Rng:    rng,
			}
			res, err := searcher.Search(ctx, state, cfg.Sims)
			if err != nil {
				return nil, GameResult{Winner: -1, Placements: state.Turn}, fmt.Errorf("search: %w", err)
			}

			if verbose {
				log.Debug().
					Int("worker", workerID).
					Int32("move", state.Turn).
					Int("column", res.Action).
					Int8("die", state.CurrentDie).
					Floats32("policy", res.Policy[:]).
					Msg("placement chosen")
				fmt.Print(RenderState(state))
			}

			featuresPtr := convert.StateToBytes(state)
			features := make([]byte, len(*featuresPtr))
			copy(features, *featuresPtr)
			convert.PutBuffer(featuresPtr)

			rows = append(rows, store.TrainingRow{
				GameID:     gameID,
				Move:       state.Turn,
				Player:     int32(state.CurrentPlayer),
				Features:   features,
				FeatureDim: convert.FeatureSize,
				Policy:     int32(res.Action),
				PolicyP0:   res.Policy[0],
				PolicyP1:   res.Policy[1],
				PolicyP2:   res.Policy[2],
				Source:     "selfplay",
			})

			next, err := rules.ApplyMove(state, res.Action)
			if err != nil {
				return nil, GameResult{Winner: -1, Placements: state.Turn}, fmt.Errorf("apply chosen move %d: %w", res.Action, err)
			}
			state = next
			placements++

			if onStep != nil {
				onStep()
			}
			if onState != nil {
				onState(state)
			}
		}
	}

	// Outcomes exist only now; walk back over the recorded decisions.
	for i := range rows {
		rows[i].Value = rules.OutcomeFor(state, game.Player(rows[i].Player))
	}

	result := GameResult{
		Winner:     -1,
		Placements: state.Turn,
		ScoreP1:    rules.GridScore(&state.Boards[game.PlayerOne]),
		ScoreP2:    rules.GridScore(&state.Boards[game.PlayerTwo]),
	}
	if winner, ok := rules.Winner(state); ok {
		result.Winner = int32(winner)
	}

	if verbose {
		fmt.Print(RenderState(state))
		log.Info().
			Int("worker", workerID).
			Int32("winner", result.Winner).
			Int32("placements", result.Placements).
			Int("score_p1", result.ScoreP1).
			Int("score_p2", result.ScoreP2).
			Msg("game finished")
	}

	return rows, result, nil
}
