package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthmon/internal/baseline"
	"healthmon/internal/detector"
	"healthmon/internal/models"
	"healthmon/internal/vitals"
)

type fakeStore struct {
	mu     sync.Mutex
	vitals []models.EnrichedSample
	alerts []models.Alert
}

func (f *fakeStore) InsertVitals(_ context.Context, sample models.EnrichedSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vitals = append(f.vitals, sample)
	return nil
}

func (f *fakeStore) InsertAlert(_ context.Context, alert models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

type published struct {
	topic   string
	payload interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: v})
	return nil
}

func (f *fakePublisher) onTopic(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	pipe     *Pipeline
	store    *fakeStore
	pub      *fakePublisher
	registry *baseline.Registry
	done     chan struct{}
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry := baseline.NewRegistry()
	st := &fakeStore{}
	pub := &fakePublisher{}
	pipe := New(Config{
		Workers:     workers,
		QueueSize:   workers * 64,
		VitalsTopic: "health/vitals",
		AlertsTopic: "health/alerts",
	}, detector.NewManager(registry), registry, st, pub, logger, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipe.Start(context.Background())
	}()

	return &harness{pipe: pipe, store: st, pub: pub, registry: registry, done: done}
}

// drain closes the pipeline and waits for the workers to finish
func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.pipe.Close()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not drain")
	}
}

func rawJSON(t *testing.T, sample models.RawSample) []byte {
	t.Helper()
	payload, err := json.Marshal(sample)
	require.NoError(t, err)
	return payload
}

func ptr(v float64) *float64 { return &v }

func TestNormalSampleFlow(t *testing.T) {
	h := newHarness(t, 1)

	h.pipe.HandleRaw("health/raw_vitals", rawJSON(t, models.RawSample{
		Timestamp:   "2026-08-24T10:00:00",
		UserID:      "alice",
		Activity:    30,
		HeartRate:   ptr(72),
		Temperature: ptr(36.6),
	}))
	h.drain(t)

	require.Len(t, h.store.vitals, 1)
	stored := h.store.vitals[0]
	assert.Equal(t, "alice", stored.UserID)
	assert.Equal(t, models.ActivityLow, stored.ActivityLevel)
	assert.False(t, stored.Time.IsZero())

	assert.Empty(t, h.store.alerts)
	assert.Empty(t, h.pub.onTopic("health/alerts"))
	require.Len(t, h.pub.onTopic("health/vitals"), 1)

	// Normal readings feed the baselines
	cell, ok := h.registry.Lookup("alice", models.ActivityLow, vitals.ParamHeartRate)
	require.True(t, ok)
	assert.Equal(t, int64(1), cell.Count)
}

func TestAnomalousSampleFlow(t *testing.T) {
	h := newHarness(t, 1)

	h.pipe.HandleRaw("health/raw_vitals", rawJSON(t, models.RawSample{
		Timestamp:   "2026-08-24T10:00:00",
		UserID:      "alice",
		Activity:    30,
		HeartRate:   ptr(150),
		Temperature: ptr(36.6),
	}))
	h.drain(t)

	require.Len(t, h.store.alerts, 1)
	alert := h.store.alerts[0]
	assert.Equal(t, vitals.ParamHeartRate, alert.Parameter)
	assert.Equal(t, models.SeverityHigh, alert.Severity)

	alertMsgs := h.pub.onTopic("health/alerts")
	require.Len(t, alertMsgs, 1)
	assert.Equal(t, alert, alertMsgs[0].payload)

	// Flagged readings never feed the baselines, normal ones still do
	_, ok := h.registry.Lookup("alice", models.ActivityLow, vitals.ParamHeartRate)
	assert.False(t, ok)
	cell, ok := h.registry.Lookup("alice", models.ActivityLow, vitals.ParamTemperature)
	require.True(t, ok)
	assert.Equal(t, int64(1), cell.Count)
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	h := newHarness(t, 1)

	h.pipe.HandleRaw("health/raw_vitals", []byte(`{not json`))
	h.pipe.HandleRaw("health/raw_vitals", []byte(`{"timestamp":"yesterday","activity":10}`))
	h.drain(t)

	assert.Empty(t, h.store.vitals)
	assert.Empty(t, h.pub.msgs)
}

func TestMissingUserIDDefaults(t *testing.T) {
	h := newHarness(t, 1)

	h.pipe.HandleRaw("health/raw_vitals", []byte(`{"timestamp":"2026-08-24T10:00:00","activity":10,"heart_rate":72}`))
	h.drain(t)

	require.Len(t, h.store.vitals, 1)
	assert.Equal(t, models.DefaultUserID, h.store.vitals[0].UserID)
}

func TestEnrichedSampleRoundTrip(t *testing.T) {
	h := newHarness(t, 1)

	h.pipe.HandleRaw("health/raw_vitals", rawJSON(t, models.RawSample{
		Timestamp:        "2026-08-24T10:00:00",
		UserID:           "alice",
		Activity:         120,
		HeartRate:        ptr(130),
		OxygenSaturation: ptr(95.5),
	}))
	h.drain(t)

	msgs := h.pub.onTopic("health/vitals")
	require.Len(t, msgs, 1)

	raw, err := json.Marshal(msgs[0].payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "high", decoded["activity_level"])
	assert.Equal(t, "alice", decoded["user_id"])
	assert.Equal(t, 120.0, decoded["activity"])
	assert.Equal(t, 130.0, decoded["heart_rate"])
	assert.Equal(t, 95.5, decoded["oxygen_saturation"])
	assert.Equal(t, "2026-08-24T10:00:00", decoded["timestamp"])

	// Absent readings stay absent
	_, present := decoded["temperature"]
	assert.False(t, present)
}

func TestPerUserOrderingPreserved(t *testing.T) {
	h := newHarness(t, 4)

	const n = 200
	for i := 0; i < n; i++ {
		h.pipe.HandleRaw("health/raw_vitals", rawJSON(t, models.RawSample{
			Timestamp: "2026-08-24T10:00:00",
			UserID:    "alice",
			Activity:  10,
			HeartRate: ptr(float64(i)),
		}))
	}
	h.drain(t)

	require.Len(t, h.store.vitals, n)
	for i, sample := range h.store.vitals {
		require.Equal(t, float64(i), *sample.HeartRate, "sample %d out of order", i)
	}
}

func TestUsersPartitionToFixedWorkers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := baseline.NewRegistry()
	pipe := New(Config{Workers: 4, QueueSize: 64}, detector.NewManager(registry), registry, &fakeStore{}, &fakePublisher{}, logger, nil)

	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("user-%d", i)
		first := pipe.partition(user)
		assert.Equal(t, first, pipe.partition(user), "partition must be stable for %s", user)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 4)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, 2)
	h.pipe.Close()
	h.pipe.Close()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}
