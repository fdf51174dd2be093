package models

// CacheStats reports cache performance metrics.
type CacheStats struct {
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	Expirations  int64   `json:"expirations"`
}
