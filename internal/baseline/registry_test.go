package baseline

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naive two-pass mean and sample stddev for cross-checking the
// streaming update
func naiveStats(values []float64) (mean, sd float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		sd += (v - mean) * (v - mean)
	}
	sd = math.Sqrt(sd / float64(len(values)-1))
	return mean, sd
}

func TestWelfordMatchesTwoPass(t *testing.T) {
	values := []float64{72, 75, 68, 80, 71, 74, 69, 77, 73, 70, 76, 72.5}

	r := NewRegistry()
	for _, v := range values {
		r.Update("alice", "low", "heart_rate", v)
	}

	cell, ok := r.Lookup("alice", "low", "heart_rate")
	require.True(t, ok)
	assert.Equal(t, int64(len(values)), cell.Count)

	mean, sd := naiveStats(values)
	assert.InDelta(t, mean, cell.Mean, 1e-9)
	assert.InDelta(t, sd, cell.StdDev(), 1e-9)
}

func TestStdDevEdgeCases(t *testing.T) {
	r := NewRegistry()
	r.Update("alice", "low", "heart_rate", 72)

	cell, ok := r.Lookup("alice", "low", "heart_rate")
	require.True(t, ok)
	assert.Zero(t, cell.StdDev(), "single sample has no spread")

	// Constant stream keeps stddev at zero
	for i := 0; i < 40; i++ {
		r.Update("bob", "low", "temperature", 36.6)
	}
	cell, ok = r.Lookup("bob", "low", "temperature")
	require.True(t, ok)
	assert.Zero(t, cell.StdDev())
	assert.True(t, cell.Warm())
}

func TestWarmThreshold(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < WarmCount-1; i++ {
		r.Update("alice", "low", "heart_rate", 70+float64(i%5))
	}
	cell, _ := r.Lookup("alice", "low", "heart_rate")
	assert.False(t, cell.Warm())

	r.Update("alice", "low", "heart_rate", 71)
	cell, _ = r.Lookup("alice", "low", "heart_rate")
	assert.True(t, cell.Warm())
}

func TestCellsAreIndependent(t *testing.T) {
	r := NewRegistry()
	r.Update("alice", "low", "heart_rate", 70)
	r.Update("alice", "high", "heart_rate", 130)
	r.Update("alice", "low", "temperature", 36.5)
	r.Update("bob", "low", "heart_rate", 90)

	cell, ok := r.Lookup("alice", "low", "heart_rate")
	require.True(t, ok)
	assert.Equal(t, int64(1), cell.Count)
	assert.Equal(t, 70.0, cell.Mean)

	cell, ok = r.Lookup("bob", "low", "heart_rate")
	require.True(t, ok)
	assert.Equal(t, 90.0, cell.Mean)
}

func TestResetDropsOnlyThatUser(t *testing.T) {
	r := NewRegistry()
	r.Update("alice", "low", "heart_rate", 70)
	r.Update("alice", "medium", "temperature", 37.0)
	r.Update("bob", "low", "heart_rate", 90)

	r.Reset("alice")

	_, ok := r.Lookup("alice", "low", "heart_rate")
	assert.False(t, ok)
	_, ok = r.Lookup("alice", "medium", "temperature")
	assert.False(t, ok)

	cell, ok := r.Lookup("bob", "low", "heart_rate")
	require.True(t, ok)
	assert.Equal(t, int64(1), cell.Count)
}

func TestStatsGroupsByActivityLevel(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Update("alice", "low", "heart_rate", 70)
		r.Update("alice", "low", "temperature", 36.6)
	}
	r.Update("alice", "high", "heart_rate", 130)
	r.Update("bob", "low", "heart_rate", 90)

	stats := r.Stats("alice")
	require.Len(t, stats, 2)

	low := stats["low"]
	assert.Equal(t, int64(6), low.TotalSamples)
	require.Contains(t, low.Parameters, "heart_rate")
	assert.Equal(t, int64(3), low.Parameters["heart_rate"].Count)
	assert.Equal(t, 70.0, low.Parameters["heart_rate"].Mean)

	high := stats["high"]
	assert.Equal(t, int64(1), high.TotalSamples)

	// Empty for unknown users, not nil-panicky
	assert.Empty(t, r.Stats("nobody"))
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	users := []string{"alice", "bob", "carol", "dave"}
	const perUser = 500

	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				r.Update(user, "low", "heart_rate", 70+float64(i%10))
			}
		}(user)
	}
	wg.Wait()

	for _, user := range users {
		cell, ok := r.Lookup(user, "low", "heart_rate")
		require.True(t, ok)
		assert.Equal(t, int64(perUser), cell.Count)
	}
}
