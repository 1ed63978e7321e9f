package ttlstore

import (
	"fmt"

	"github.com/mohammed-shakir/places-cache/internal/cache"
)

type TypeStats struct {
	Entries int    `json:"entries"`
	Usage   uint64 `json:"usage"`
}

type Stats struct {
	TotalEntries int                           `json:"total_entries"`
	TotalUsage   uint64                        `json:"total_usage"`
	ByType       map[cache.EntryType]TypeStats `json:"by_type"`
	HitRate      float64                       `json:"hit_rate"`
}

// HitRatePercent renders HitRate the way dashboards show it, e.g. "42.50%".
func (s Stats) HitRatePercent() string {
	return fmt.Sprintf("%.2f%%", s.HitRate*100)
}

// Stats aggregates live entries. Expired entries that have not been swept
// yet are skipped.
func (s *Store) Stats() Stats {
	now := s.clock.Now()
	out := Stats{ByType: make(map[cache.EntryType]TypeStats)}

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.m {
			if e.Expired(now) {
				continue
			}
			out.TotalEntries++
			out.TotalUsage += e.Usage
			ts := out.ByType[e.Type]
			ts.Entries++
			ts.Usage += e.Usage
			out.ByType[e.Type] = ts
		}
		sh.mu.Unlock()
	}

	out.HitRate = hitRate(out.TotalEntries, out.TotalUsage)
	return out
}

// every entry starts with usage 1, so usage beyond the entry count is the
// number of reads served from cache
func hitRate(entries int, usage uint64) float64 {
	if entries < 0 || usage <= uint64(entries) {
		return 0
	}
	return float64(usage-uint64(entries)) / float64(usage)
}
