// Package trends produces multi-resolution downsampled series for
// every monitored parameter.
package trends

import (
	"context"
	"math"
	"time"

	"healthmon/internal/metrics"
	"healthmon/internal/store"
	"healthmon/internal/vitals"
	"healthmon/pkg/logging"
)

// Scale is one downsampling resolution: a lookback window, the bucket
// width handed to time_bucket, and the label format for bucket times.
type Scale struct {
	Name       string
	Interval   string
	Lookback   time.Duration
	TimeFormat string
}

// Scales lists the five fixed resolutions, coarsest last
var Scales = []Scale{
	{Name: "1min", Interval: "5 seconds", Lookback: time.Minute, TimeFormat: "15:04:05"},
	{Name: "30min", Interval: "1 minute", Lookback: 30 * time.Minute, TimeFormat: "15:04"},
	{Name: "1h", Interval: "5 minutes", Lookback: time.Hour, TimeFormat: "15:04"},
	{Name: "1day", Interval: "1 hour", Lookback: 24 * time.Hour, TimeFormat: "01-02 15"},
	{Name: "7day", Interval: "1 day", Lookback: 7 * 24 * time.Hour, TimeFormat: "2006-01-02"},
}

// ScaleByName returns the scale with the given name
func ScaleByName(name string) (Scale, bool) {
	for _, s := range Scales {
		if s.Name == name {
			return s, true
		}
	}
	return Scale{}, false
}

// Series is one downsampled parameter at one scale. Times and Values
// are index-aligned; empty buckets are omitted so charts draw gaps.
type Series struct {
	Times  []string  `json:"times"`
	Values []float64 `json:"values"`
}

// Aggregator computes trend series from the store
type Aggregator struct {
	store   *store.Store
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates a trend aggregator
func NewAggregator(st *store.Store, logger logging.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{store: st, logger: logger, metrics: m}
}

// Analyze produces every (scale, parameter) series in one envelope.
// Query failures degrade to an empty series for that cell; the
// envelope always carries all five scales and all parameters.
func (a *Aggregator) Analyze(ctx context.Context) map[string]map[string]Series {
	now := time.Now()
	trends := make(map[string]map[string]Series, len(Scales))

	for _, scale := range Scales {
		start := time.Now()
		byParam := make(map[string]Series, len(vitals.TrendParameters))
		for _, parameter := range vitals.TrendParameters {
			byParam[parameter] = a.series(ctx, parameter, scale, now)
		}
		trends[scale.Name] = byParam
		if a.metrics != nil {
			a.metrics.QueryDuration.WithLabelValues("trends_" + scale.Name).Observe(time.Since(start).Seconds())
		}
	}
	return trends
}

func (a *Aggregator) series(ctx context.Context, parameter string, scale Scale, now time.Time) Series {
	series := Series{Times: []string{}, Values: []float64{}}

	points, err := a.store.BucketMeans(ctx, parameter, scale.Interval, now.Add(-scale.Lookback))
	if err != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"parameter": parameter,
			"scale":     scale.Name,
		}).Error("Trend query failed")
		return series
	}

	for _, p := range points {
		series.Times = append(series.Times, p.Bucket.Format(scale.TimeFormat))
		series.Values = append(series.Values, round2(p.Mean))
	}
	return series
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
