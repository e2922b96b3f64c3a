package models

import (
	"fmt"
	"time"
)

// Detector types available in the system
const (
	DetectorRangeBased   = "range_based"
	DetectorUserBaseline = "user_baseline"
)

// Alert severities, ordered
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Activity levels derived from steps/min
const (
	ActivityLow    = "low"
	ActivityMedium = "medium"
	ActivityHigh   = "high"
)

// DefaultUserID is assumed when a sample carries no user_id
const DefaultUserID = "default"

// RawSample is one vital-signs reading as published on the raw topic.
// Vital fields are pointers so that absent readings stay absent.
type RawSample struct {
	Timestamp              string   `json:"timestamp"`
	UserID                 string   `json:"user_id,omitempty"`
	Activity               float64  `json:"activity"`
	HeartRate              *float64 `json:"heart_rate,omitempty"`
	BloodPressureSystolic  *float64 `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *float64 `json:"blood_pressure_diastolic,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
	OxygenSaturation       *float64 `json:"oxygen_saturation,omitempty"`
}

// EnrichedSample is a RawSample with its derived activity level and a
// parsed timestamp
type EnrichedSample struct {
	RawSample
	ActivityLevel string    `json:"activity_level"`
	Time          time.Time `json:"-"`
}

// Alert records one out-of-range observation
type Alert struct {
	ID               int64      `json:"id"`
	Timestamp        string     `json:"timestamp"`
	UserID           string     `json:"user_id"`
	Parameter        string     `json:"parameter"`
	Value            float64    `json:"value"`
	ActivityLevel    string     `json:"activity_level"`
	NormalRange      [2]float64 `json:"normal_range"`
	DeviationPercent float64    `json:"deviation_percent"`
	Severity         string     `json:"severity"`
	DetectorType     string     `json:"detector_type"`
	Time             time.Time  `json:"-"`
}

// DetectorConfig selects the active detection strategy
type DetectorConfig struct {
	DetectorType string `json:"detector_type"`
	UserID       string `json:"user_id"`
}

// ValidDetectorType reports whether t names a known strategy
func ValidDetectorType(t string) bool {
	return t == DetectorRangeBased || t == DetectorUserBaseline
}

// timestampLayouts lists accepted ISO-8601 variants, tried in order
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 instant, with or without a zone
// offset. Zoneless timestamps are taken as local time, matching how
// the samples are generated.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp format: %q", value)
}
