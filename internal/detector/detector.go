// Package detector classifies enriched samples into alerts. Two
// interchangeable strategies exist: a fixed population-range table
// and a per-user learned baseline that falls back to the population
// table until warm.
package detector

import (
	"math"
	"sync/atomic"

	"healthmon/internal/baseline"
	"healthmon/internal/models"
	"healthmon/internal/vitals"
)

// Detector classifies one sample into zero or more alerts. A missing
// parameter yields no alert; unknown parameters are ignored.
type Detector interface {
	Classify(sample models.EnrichedSample) []models.Alert
}

// alertSeq numbers alerts monotonically for the process lifetime
var alertSeq atomic.Int64

func nextAlertID() int64 {
	return alertSeq.Add(1)
}

// evaluate decides whether value falls outside [low, high] and, if it
// does, returns the signed percent deviation from the nearest range
// edge and the resulting severity.
func evaluate(value, low, high float64) (deviation float64, severity string, outside bool) {
	if value >= low && value <= high {
		return 0, "", false
	}

	edge := low
	if value > high {
		edge = high
	}

	if edge == 0 {
		// Degenerate range edge; treat as maximal deviation
		deviation = math.Copysign(100, value-edge)
	} else {
		deviation = 100 * (value - edge) / edge
	}
	deviation = round2(deviation)

	abs := math.Abs(deviation)
	switch {
	case abs >= 20:
		severity = models.SeverityHigh
	case abs >= 10:
		severity = models.SeverityMedium
	default:
		severity = models.SeverityLow
	}
	return deviation, severity, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func newAlert(sample models.EnrichedSample, parameter string, value, low, high, deviation float64, severity, detectorType string) models.Alert {
	return models.Alert{
		ID:               nextAlertID(),
		Timestamp:        sample.Timestamp,
		UserID:           sample.UserID,
		Parameter:        parameter,
		Value:            value,
		ActivityLevel:    sample.ActivityLevel,
		NormalRange:      [2]float64{low, high},
		DeviationPercent: deviation,
		Severity:         severity,
		DetectorType:     detectorType,
		Time:             sample.Time,
	}
}

// RangeBased checks each present parameter against the fixed
// population range for the sample's activity level.
type RangeBased struct{}

// NewRangeBased creates a population-range detector
func NewRangeBased() RangeBased {
	return RangeBased{}
}

// Classify implements Detector
func (RangeBased) Classify(sample models.EnrichedSample) []models.Alert {
	var alerts []models.Alert
	for _, parameter := range vitals.Parameters {
		value, present := vitals.Values(sample.RawSample)[parameter]
		if !present {
			continue
		}
		low, high, ok := vitals.NormalRange(parameter, sample.ActivityLevel)
		if !ok {
			continue
		}
		if deviation, severity, outside := evaluate(value, low, high); outside {
			alerts = append(alerts, newAlert(sample, parameter, value, low, high, deviation, severity, models.DetectorRangeBased))
		}
	}
	return alerts
}

// UserBaseline checks each present parameter against the user's
// learned mean ± 2σ band. Cells that are not yet warm fall back to
// the population range.
type UserBaseline struct {
	registry *baseline.Registry
}

// NewUserBaseline creates a learned-baseline detector backed by the
// shared registry
func NewUserBaseline(registry *baseline.Registry) *UserBaseline {
	return &UserBaseline{registry: registry}
}

// Classify implements Detector
func (d *UserBaseline) Classify(sample models.EnrichedSample) []models.Alert {
	var alerts []models.Alert
	for _, parameter := range vitals.Parameters {
		value, present := vitals.Values(sample.RawSample)[parameter]
		if !present {
			continue
		}

		low, high, ok := d.rangeFor(sample, parameter)
		if !ok {
			continue
		}
		if deviation, severity, outside := evaluate(value, low, high); outside {
			alerts = append(alerts, newAlert(sample, parameter, value, low, high, deviation, severity, models.DetectorUserBaseline))
		}
	}
	return alerts
}

func (d *UserBaseline) rangeFor(sample models.EnrichedSample, parameter string) (low, high float64, ok bool) {
	cell, found := d.registry.Lookup(sample.UserID, sample.ActivityLevel, parameter)
	if found && cell.Warm() {
		if sd := cell.StdDev(); sd > 0 {
			return round1(cell.Mean - 2*sd), round1(cell.Mean + 2*sd), true
		}
	}
	return vitals.NormalRange(parameter, sample.ActivityLevel)
}
