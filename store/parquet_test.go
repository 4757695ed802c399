package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"knucklebones/executor/convert"
)

func sampleRows(gameID string, n int) []TrainingRow {
	rows := make([]TrainingRow, 0, n)
	for i := 0; i < n; i++ {
		features := make([]byte, convert.BufferSize)
		features[0] = byte(i)
		rows = append(rows, TrainingRow{
			GameID:     gameID,
			Move:       int32(i),
			Player:     int32(i % 2),
			Features:   features,
			FeatureDim: convert.FeatureSize,
			Policy:     int32(i % 3),
			PolicyP0:   0.5,
			PolicyP1:   0.25,
			PolicyP2:   0.25,
			Value:      1,
			Source:     "selfplay",
		})
	}
	return rows
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()

	rows := sampleRows("selfplay_1_0", 12)
	outPath, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(outPath), "final file must land in the output dir, not tmp/")

	got, err := ReadBatchParquet(outPath)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	require.Equal(t, rows[3].GameID, got[3].GameID)
	require.Equal(t, rows[3].Move, got[3].Move)
	require.Equal(t, rows[3].Features, got[3].Features)
	require.Equal(t, rows[3].PolicyP1, got[3].PolicyP1)
}

func TestBatchWriterFinalize(t *testing.T) {
	dir := t.TempDir()

	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteRows(sampleRows("g1", 5)))
	w.NoteGameWritten()
	require.NoError(t, w.WriteRows(sampleRows("g2", 7)))
	w.NoteGameWritten()

	outPath, rows, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 12, rows)
	require.Equal(t, 2, games)

	got, err := ReadBatchParquet(outPath)
	require.NoError(t, err)
	require.Len(t, got, 12)
}

func TestBatchWriterEmptyFinalize(t *testing.T) {
	dir := t.TempDir()

	w, err := NewBatchWriter(dir)
	require.NoError(t, err)

	outPath, rows, games, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, outPath)
	require.Zero(t, rows)
	require.Zero(t, games)
}
