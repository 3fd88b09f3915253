package models

import "time"

// QueueStats is a point-in-time snapshot of queue depth.
type QueueStats struct {
	ByStatus map[QueueItemStatus]int `json:"by_status"`
	ByType   map[QueueItemType]int   `json:"by_type"`
	Total    int                     `json:"total"`
}

// PipelineStats aggregates counters across the stores for the status API.
type PipelineStats struct {
	Queue         QueueStats               `json:"queue"`
	Listings      map[JobListingStatus]int `json:"listings"`
	Matches       int                      `json:"matches"`
	Companies     int                      `json:"companies"`
	Sources       int                      `json:"sources"`
	SourcesOnCool int                      `json:"sources_on_cooldown"`
	DailyCosts    map[string]float64       `json:"daily_costs"`
	Workers       map[QueueItemType]int    `json:"workers_busy"`
	GeneratedAt   time.Time                `json:"generated_at"`
}
