package tiles

import "time"

// sweepLoop runs Sweep every interval until the tileset is destroyed.
func (ts *Tileset) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ts.ctx.Done():
			return
		case <-ticker.C:
			if n := ts.Sweep(); n > 0 {
				ts.rc.Log.Debugf("%s: budget sweep evicted %d tiles", ts.URL, n)
			}
		}
	}
}

// Sweep evicts hidden content, depth first from the root, if the tileset
// is over its memory budget. It stops once usage is at or below 90% of the
// budget. Shown content is never evicted. It returns the number of tiles
// evicted.
func (ts *Tileset) Sweep() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	limit := ts.opts.MaxMemoryBytes
	if limit <= 0 || ts.total <= limit {
		return 0
	}
	target := limit / 10 * 9
	evicted := 0
	ts.Root.walk(func(n *Node) bool {
		if n.state == LoadedHidden {
			ts.evict(n)
			evicted++
		}
		return ts.total > target
	})
	return evicted
}

// Bytes returns the charged size of resident content.
func (ts *Tileset) Bytes() int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.total
}
