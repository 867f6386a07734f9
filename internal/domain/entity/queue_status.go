package entity

import "time"

// QueueStatus is an advisory snapshot of the global queue.
type QueueStatus struct {
	QueueLength           int           `json:"queue_length"`
	ProcessingCount       int           `json:"processing_count"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	EstimatedDrainTime    time.Duration `json:"estimated_drain_time"`
}

// EstimateWait multiplies the per-job average by position. Positions below 1
// estimate zero.
func EstimateWait(position int, avg time.Duration) time.Duration {
	if position < 1 || avg <= 0 {
		return 0
	}
	return time.Duration(position) * avg
}
