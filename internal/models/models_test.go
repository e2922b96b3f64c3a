package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	cases := []string{
		"2026-08-24T10:00:00Z",
		"2026-08-24T10:00:00+08:00",
		"2026-08-24T10:00:00.123456Z",
		"2026-08-24T10:00:00",
		"2026-08-24T10:00:00.123456",
	}
	for _, raw := range cases {
		ts, err := ParseTimestamp(raw)
		require.NoError(t, err, "timestamp %q", raw)
		assert.Equal(t, 2026, ts.Year())
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
	_, err = ParseTimestamp("")
	assert.Error(t, err)
}

func TestParseTimestampZonelessIsLocal(t *testing.T) {
	ts, err := ParseTimestamp("2026-08-24T10:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Local, ts.Location())
	assert.Equal(t, 10, ts.Hour())
}

func TestRawSampleAbsentFieldsStayAbsent(t *testing.T) {
	var sample RawSample
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp":"2026-08-24T10:00:00","activity":30,"heart_rate":72}`), &sample))

	require.NotNil(t, sample.HeartRate)
	assert.Equal(t, 72.0, *sample.HeartRate)
	assert.Nil(t, sample.Temperature)

	out, err := json.Marshal(sample)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "temperature")
}

func TestValidDetectorType(t *testing.T) {
	assert.True(t, ValidDetectorType(DetectorRangeBased))
	assert.True(t, ValidDetectorType(DetectorUserBaseline))
	assert.False(t, ValidDetectorType(""))
	assert.False(t, ValidDetectorType("ml_ensemble"))
}
