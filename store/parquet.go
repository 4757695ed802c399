// Package store persists self-play training samples as parquet batches.
//
// Writers always go through a tmp path plus an atomic rename so that a
// trainer polling the output directory never observes a partial file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// TrainingRow is a single supervised training sample: one decision point
// of one self-play game.
//
// Features is the 43-float network input, stored as little-endian float32
// bytes. Policy is the chosen column; PolicyP0..P2 are the full MCTS
// visit-distribution target. Value is the final game outcome in {-1,0,1}
// from the acting player's perspective, assigned after the game ends.
type TrainingRow struct {
	GameID     string `parquet:"game_id,dict"`
	Move       int32  `parquet:"move"`
	Player     int32  `parquet:"player"`
	Features   []byte `parquet:"features"`
	FeatureDim int32  `parquet:"feature_dim"`

	Policy int32 `parquet:"policy"`
	// Policy distribution as scalar columns (p0..p2) for better
	// cross-library parquet compatibility than LIST<FLOAT>.
	PolicyP0 float32 `parquet:"policy_p0"`
	PolicyP1 float32 `parquet:"policy_p1"`
	PolicyP2 float32 `parquet:"policy_p2"`

	Value  float32 `parquet:"value"`
	Source string  `parquet:"source,dict"`
}

const schemaName = "knucklebones_training_v1"

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("features"),
		parquet.KeyValueMetadata("schema", schemaName),
	}
}

// WriteGameParquet writes rows to outPath through a tmp file and rename.
func WriteGameParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writeOptions()...); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteBatchParquetAtomic writes a parquet file into outDir/tmp and then
// atomically moves it into outDir. The returned path is the final file.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writeOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadBatchParquet loads every row of a batch file.
func ReadBatchParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
