package cache

// EvictionPolicy selects which entry to evict when the cache is over
// capacity. SelectVictim returns the index of the victim in entries, or
// -1 when there is nothing to evict.
type EvictionPolicy interface {
	SelectVictim(entries []CacheEntry) int
}

// FIFOPolicy evicts in insertion order: the entry with the oldest
// CreatedAt goes first. This is the default; it makes capacity eviction
// deterministic regardless of access patterns.
type FIFOPolicy struct{}

func (p *FIFOPolicy) SelectVictim(entries []CacheEntry) int {
	if len(entries) == 0 {
		return -1
	}

	oldestIdx := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[oldestIdx].CreatedAt) {
			oldestIdx = i
		}
	}
	return oldestIdx
}

type LRUPolicy struct{}

func (p *LRUPolicy) SelectVictim(entries []CacheEntry) int {
	if len(entries) == 0 {
		return -1
	}

	oldestIdx := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].LastAccessAt.Before(entries[oldestIdx].LastAccessAt) {
			oldestIdx = i
		}
	}
	return oldestIdx
}

type LFUPolicy struct{}

func (p *LFUPolicy) SelectVictim(entries []CacheEntry) int {
	if len(entries) == 0 {
		return -1
	}

	victimIdx := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].HitCount < entries[victimIdx].HitCount {
			victimIdx = i
		} else if entries[i].HitCount == entries[victimIdx].HitCount {
			// Use LRU as tiebreaker to avoid random selection
			if entries[i].LastAccessAt.Before(entries[victimIdx].LastAccessAt) {
				victimIdx = i
			}
		}
	}
	return victimIdx
}
