// Package vitals defines the monitored parameters, their population
// normal ranges per activity level, and activity classification.
package vitals

import "healthmon/internal/models"

// Monitored vital parameters (activity is tracked but not alerted on)
const (
	ParamHeartRate              = "heart_rate"
	ParamBloodPressureSystolic  = "blood_pressure_systolic"
	ParamBloodPressureDiastolic = "blood_pressure_diastolic"
	ParamTemperature            = "temperature"
	ParamOxygenSaturation       = "oxygen_saturation"
	ParamActivity               = "activity"
)

// Parameters lists the vital parameters subject to anomaly detection,
// in stable order.
var Parameters = []string{
	ParamHeartRate,
	ParamBloodPressureSystolic,
	ParamBloodPressureDiastolic,
	ParamTemperature,
	ParamOxygenSaturation,
}

// TrendParameters lists everything the trend aggregator downsamples
var TrendParameters = []string{
	ParamHeartRate,
	ParamBloodPressureSystolic,
	ParamBloodPressureDiastolic,
	ParamTemperature,
	ParamOxygenSaturation,
	ParamActivity,
}

// Units maps each trend parameter to its display unit
var Units = map[string]string{
	ParamHeartRate:              "bpm",
	ParamBloodPressureSystolic:  "mmHg",
	ParamBloodPressureDiastolic: "mmHg",
	ParamTemperature:            "°C",
	ParamOxygenSaturation:       "%",
	ParamActivity:               "steps/min",
}

// normalRanges holds the population [low, high] table per activity level
var normalRanges = map[string]map[string][2]float64{
	models.ActivityLow: {
		ParamHeartRate:              {60, 80},
		ParamBloodPressureSystolic:  {110, 120},
		ParamBloodPressureDiastolic: {70, 80},
		ParamTemperature:            {36.1, 37.2},
		ParamOxygenSaturation:       {95, 100},
	},
	models.ActivityMedium: {
		ParamHeartRate:              {80, 100},
		ParamBloodPressureSystolic:  {120, 140},
		ParamBloodPressureDiastolic: {80, 90},
		ParamTemperature:            {36.5, 37.5},
		ParamOxygenSaturation:       {94, 99},
	},
	models.ActivityHigh: {
		ParamHeartRate:              {100, 160},
		ParamBloodPressureSystolic:  {140, 160},
		ParamBloodPressureDiastolic: {90, 100},
		ParamTemperature:            {37.0, 38.0},
		ParamOxygenSaturation:       {92, 98},
	},
}

// ActivityLevel classifies steps/min into low, medium or high
func ActivityLevel(activity float64) string {
	switch {
	case activity > 100:
		return models.ActivityHigh
	case activity > 50:
		return models.ActivityMedium
	default:
		return models.ActivityLow
	}
}

// NormalRange returns the population [low, high] range for a parameter
// at a given activity level. ok is false for unknown parameters.
func NormalRange(parameter, activityLevel string) (low, high float64, ok bool) {
	ranges, ok := normalRanges[activityLevel]
	if !ok {
		return 0, 0, false
	}
	r, ok := ranges[parameter]
	if !ok {
		return 0, 0, false
	}
	return r[0], r[1], true
}

// Values extracts the present vital readings from a sample, keyed by
// parameter name. Absent readings are omitted, never fabricated.
func Values(s models.RawSample) map[string]float64 {
	values := make(map[string]float64, len(Parameters))
	if s.HeartRate != nil {
		values[ParamHeartRate] = *s.HeartRate
	}
	if s.BloodPressureSystolic != nil {
		values[ParamBloodPressureSystolic] = *s.BloodPressureSystolic
	}
	if s.BloodPressureDiastolic != nil {
		values[ParamBloodPressureDiastolic] = *s.BloodPressureDiastolic
	}
	if s.Temperature != nil {
		values[ParamTemperature] = *s.Temperature
	}
	if s.OxygenSaturation != nil {
		values[ParamOxygenSaturation] = *s.OxygenSaturation
	}
	return values
}
