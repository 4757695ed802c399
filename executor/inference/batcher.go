package inference

import (
	"sync/atomic"
	"time"
)

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// batchRunner executes one coalesced oracle call. batchInput holds the
// requests' feature vectors concatenated in order; the runner must deliver
// exactly one response on every request's respChan.
type batchRunner func(requests []inferenceRequest, batchInput []float32)

// batcher coalesces concurrent evaluation requests into batches, flushing
// whenever the batch reaches its size limit or the timeout elapses,
// whichever comes first. A lone request never waits longer than the
// timeout.
type batcher struct {
	requestsChan chan inferenceRequest
	batchSize    int
	timeout      time.Duration
	run          batchRunner

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

func newBatcher(batchSize int, timeout time.Duration, run batchRunner) *batcher {
	b := &batcher{
		requestsChan: make(chan inferenceRequest, batchSize*2),
		batchSize:    batchSize,
		timeout:      timeout,
		run:          run,
	}
	go b.loop()
	return b
}

// submit enqueues one evaluation and blocks until its result arrives.
// Safe for concurrent callers.
func (b *batcher) submit(input []float32) ([]float32, float32, error) {
	respChan := make(chan inferenceResponse, 1)
	b.requestsChan <- inferenceRequest{input: input, respChan: respChan}
	resp := <-respChan
	return resp.policy, resp.value, resp.err
}

func (b *batcher) loop() {
	featureLen := 0
	requests := make([]inferenceRequest, 0, b.batchSize)
	var batchInput []float32

	ticker := time.NewTicker(b.timeout)
	defer ticker.Stop()

	flush := func() {
		start := time.Now()
		b.run(requests, batchInput)
		b.totalBatches.Add(1)
		b.totalItems.Add(int64(len(requests)))
		b.totalRunNanos.Add(time.Since(start).Nanoseconds())
		b.lastBatchSize.Store(int64(len(requests)))

		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case req := <-b.requestsChan:
			if featureLen == 0 {
				featureLen = len(req.input)
				batchInput = make([]float32, 0, b.batchSize*featureLen)
			}
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)

			if len(requests) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}
