package inference

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knucklebones/game"
	"knucklebones/rules"
)

// echoRunner answers every request with a fixed policy and the first
// element of its own input as the value, recording batch sizes.
type echoRunner struct {
	mu     sync.Mutex
	sizes  []int
	policy []float32
}

func (r *echoRunner) run(requests []inferenceRequest, batchInput []float32) {
	r.mu.Lock()
	r.sizes = append(r.sizes, len(requests))
	r.mu.Unlock()

	featureLen := len(batchInput) / len(requests)
	for i, req := range requests {
		req.respChan <- inferenceResponse{
			policy: append([]float32(nil), r.policy...),
			value:  batchInput[i*featureLen],
		}
	}
}

func (r *echoRunner) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sizes...)
}

func TestBatcherLoneRequestFlushedByTimeout(t *testing.T) {
	runner := &echoRunner{policy: []float32{0.5, 0.3, 0.2}}
	b := newBatcher(16, 5*time.Millisecond, runner.run)

	start := time.Now()
	policy, value, err := b.submit([]float32{0.25, 0, 0})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.3, 0.2}, policy)
	require.Equal(t, float32(0.25), value)
	require.Less(t, elapsed, 500*time.Millisecond, "a lone request must not wait past the timeout")
	require.Equal(t, []int{1}, runner.batchSizes())
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	runner := &echoRunner{policy: []float32{1, 0, 0}}
	// Long timeout so only the size trigger can flush a full batch.
	b := newBatcher(4, time.Minute, runner.run)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, value, err := b.submit([]float32{float32(i), 0, 0})
			require.NoError(t, err)
			require.Equal(t, float32(i), value, "each caller gets its own result back")
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("full batch was not flushed by the size trigger")
	}

	require.Equal(t, []int{4}, runner.batchSizes())
}

func TestBatcherConcurrentSubmitters(t *testing.T) {
	runner := &echoRunner{policy: []float32{0.4, 0.4, 0.2}}
	b := newBatcher(8, time.Millisecond, runner.run)

	const callers = 64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, value, err := b.submit([]float32{float32(i), 1, 2})
			require.NoError(t, err)
			require.Equal(t, float32(i), value)
		}(i)
	}
	wg.Wait()

	st := b.stats()
	require.Equal(t, int64(callers), st.TotalItems)
	require.Greater(t, st.TotalBatches, int64(0))
}

func TestHeuristicClient(t *testing.T) {
	h := NewHeuristicClient()

	s := rules.NewGame()
	policy, value, err := h.Predict(s)
	require.NoError(t, err)
	require.Len(t, policy, game.NumActions)
	require.InDelta(t, 1.0/3.0, policy[0], 1e-6)
	require.Zero(t, value, "empty boards are even")

	// Current player ahead by 54 points: value = 54/200.
	s.Boards[game.PlayerOne][0] = [game.Rows]int8{6, 6, 6}
	_, value, err = h.Predict(s)
	require.NoError(t, err)
	require.InDelta(t, 54.0/200.0, value, 1e-6)

	// From the trailing seat the same margin is negative.
	s.CurrentPlayer = game.PlayerTwo
	_, value, err = h.Predict(s)
	require.NoError(t, err)
	require.InDelta(t, -54.0/200.0, value, 1e-6)
}

func TestHeuristicClientTerminal(t *testing.T) {
	h := NewHeuristicClient()

	s := rules.NewGame()
	s.Phase = game.PhaseEnded
	s.Boards[game.PlayerOne][0] = [game.Rows]int8{1, 1, 1}
	s.Boards[game.PlayerOne][1] = [game.Rows]int8{2, 2, 2}
	s.Boards[game.PlayerOne][2] = [game.Rows]int8{3, 3, 3}

	// Player one filled with the higher score; from player one's seat the
	// exact outcome is a win.
	_, value, err := h.Predict(s)
	require.NoError(t, err)
	require.Equal(t, float32(1), value)

	s.CurrentPlayer = game.PlayerTwo
	_, value, err = h.Predict(s)
	require.NoError(t, err)
	require.Equal(t, float32(-1), value)
}
