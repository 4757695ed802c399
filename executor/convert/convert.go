// Package convert encodes game states into the fixed feature layout the
// policy/value network consumes. The layout is a wire contract shared with
// the trainer and must stay bit-for-bit stable.
package convert

import (
	"encoding/binary"
	"math"
	"sync"

	"knucklebones/game"
)

const (
	// FeatureSize is the network input width:
	// 2 boards x 3 columns x 6 face-count features, then a seat flag,
	// then a 6-wide one-hot of the rolled die.
	FeatureSize = 2*game.Columns*game.MaxFace + 1 + game.MaxFace

	PolicySize = game.NumActions
	ValueSize  = 1

	BytesPerFloat = 4
	BufferSize    = FeatureSize * BytesPerFloat
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FeatureSize)
		return &b
	},
}

// GetBuffer returns a byte buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a byte buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// StateToFloat32 encodes the state into a pooled float32 slice.
// Caller must return the slice using PutFloatBuffer.
//
// Layout, in order:
//   - for each board (player one first), for each column, for each face
//     1..6: count of that face in the column divided by 3
//   - one feature: 0 if player one is to act, 1 otherwise
//   - six features: one-hot of the rolled die, all zero when no die is set
func StateToFloat32(s *game.GameState) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)

	idx := 0
	for p := 0; p < 2; p++ {
		board := &s.Boards[p]
		for col := 0; col < game.Columns; col++ {
			var counts [game.MaxFace + 1]int8
			for row := 0; row < game.Rows; row++ {
				if v := board[col][row]; v > 0 {
					counts[v]++
				}
			}
			for face := 1; face <= game.MaxFace; face++ {
				data[idx] = float32(counts[face]) / float32(game.Rows)
				idx++
			}
		}
	}

	if s.CurrentPlayer == game.PlayerTwo {
		data[idx] = 1.0
	}
	idx++

	if s.CurrentDie >= 1 && s.CurrentDie <= game.MaxFace {
		data[idx+int(s.CurrentDie)-1] = 1.0
	}

	return dataPtr
}

// StateToBytes encodes the state as little-endian float32 bytes, suitable
// for parquet storage. Caller must return the buffer using PutBuffer.
func StateToBytes(s *game.GameState) *[]byte {
	floatsPtr := StateToFloat32(s)
	floats := *floatsPtr

	bufPtr := GetBuffer()
	buf := *bufPtr
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*BytesPerFloat:], math.Float32bits(f))
	}
	PutFloatBuffer(floatsPtr)
	return bufPtr
}

// BytesToFloat32 decodes a feature byte blob back into a fresh float slice.
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / BytesPerFloat
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out
}
