package inference

// RuntimeStats is a snapshot of batching throughput counters, used by the
// executor's periodic stats log.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

func (b *batcher) stats() RuntimeStats {
	batches := b.totalBatches.Load()
	items := b.totalItems.Load()
	runNanos := b.totalRunNanos.Load()

	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: b.lastBatchSize.Load(),
		QueueLen:      len(b.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}
