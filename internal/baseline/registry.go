// Package baseline maintains per-user running statistics for each
// vital parameter, partitioned by activity level. Statistics are
// learned online with Welford's algorithm and live in memory for the
// lifetime of the process.
package baseline

import (
	"hash/fnv"
	"math"
	"sync"
)

// WarmCount is the number of accepted samples a cell needs before the
// user-baseline detector trusts it.
const WarmCount = 30

const shardCount = 16

// Cell is the running Gaussian summary for one
// (user, activity_level, parameter) key.
type Cell struct {
	Count int64
	Mean  float64
	M2    float64
}

// StdDev returns the sample standard deviation, zero until two
// samples have been seen. Negative M2 from float error is clamped.
func (c Cell) StdDev() float64 {
	if c.Count < 2 || c.M2 <= 0 {
		return 0
	}
	return math.Sqrt(c.M2 / float64(c.Count-1))
}

// Warm reports whether the cell has enough samples to stand in for
// the population range.
func (c Cell) Warm() bool {
	return c.Count >= WarmCount
}

// ParamStats is the inspection view of one cell
type ParamStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int64   `json:"count"`
}

// LevelStats groups cell stats for one activity level
type LevelStats struct {
	TotalSamples int64                 `json:"total_samples"`
	Parameters   map[string]ParamStats `json:"parameters"`
}

type cellKey struct {
	userID        string
	activityLevel string
	parameter     string
}

type shard struct {
	mu    sync.Mutex
	cells map[cellKey]*Cell
}

// Registry is a sharded concurrent map of baseline cells. All cells
// for one user live in a single shard so Stats and Reset touch one
// lock.
type Registry struct {
	shards [shardCount]shard
}

// NewRegistry creates an empty baseline registry
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].cells = make(map[cellKey]*Cell)
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

// Update folds one accepted reading into the cell via Welford
func (r *Registry) Update(userID, activityLevel, parameter string, value float64) {
	s := r.shardFor(userID)
	key := cellKey{userID, activityLevel, parameter}

	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[key]
	if !ok {
		cell = &Cell{}
		s.cells[key] = cell
	}

	cell.Count++
	delta := value - cell.Mean
	cell.Mean += delta / float64(cell.Count)
	cell.M2 += delta * (value - cell.Mean)
}

// Lookup returns a copy of the cell for a key, if present
func (r *Registry) Lookup(userID, activityLevel, parameter string) (Cell, bool) {
	s := r.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[cellKey{userID, activityLevel, parameter}]
	if !ok {
		return Cell{}, false
	}
	return *cell, true
}

// Stats snapshots every cell belonging to a user, grouped by activity
// level. The snapshot is copied out under the shard lock.
func (r *Registry) Stats(userID string) map[string]LevelStats {
	s := r.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]LevelStats)
	for key, cell := range s.cells {
		if key.userID != userID {
			continue
		}
		level, ok := stats[key.activityLevel]
		if !ok {
			level = LevelStats{Parameters: make(map[string]ParamStats)}
		}
		level.Parameters[key.parameter] = ParamStats{
			Mean:   cell.Mean,
			StdDev: cell.StdDev(),
			Count:  cell.Count,
		}
		level.TotalSamples += cell.Count
		stats[key.activityLevel] = level
	}
	return stats
}

// Reset drops every cell belonging to a user
func (r *Registry) Reset(userID string) {
	s := r.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.cells {
		if key.userID == userID {
			delete(s.cells, key)
		}
	}
}
