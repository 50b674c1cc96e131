package models

import "time"

// CacheEntry describes one persisted response on disk.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
}

// CacheStats reports cache occupancy and performance metrics.
type CacheStats struct {
	Dir        string `json:"dir"`
	Entries    int64  `json:"entries"`
	Capacity   int    `json:"capacity"`
	TotalBytes int64  `json:"total_bytes"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
}
