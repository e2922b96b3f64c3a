// Package pipeline coordinates ingestion: raw samples from the broker
// are validated, enriched, classified, learned from, persisted and
// republished.
package pipeline

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"

	"healthmon/internal/baseline"
	"healthmon/internal/detector"
	"healthmon/internal/metrics"
	"healthmon/internal/models"
	"healthmon/internal/vitals"
	"healthmon/pkg/logging"
)

// VitalsStore is the persistence surface the pipeline writes through
type VitalsStore interface {
	InsertVitals(ctx context.Context, sample models.EnrichedSample) error
	InsertAlert(ctx context.Context, alert models.Alert) error
}

// Publisher is the broker surface the pipeline republishes through
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Config holds pipeline tuning and topic names
type Config struct {
	Workers     int
	QueueSize   int
	VitalsTopic string
	AlertsTopic string
}

// DefaultConfig returns the default worker pool shape
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 1024,
	}
}

// Pipeline fans samples out to detection, learning, persistence and
// republication. Samples are partitioned to a fixed worker by user_id
// so per-user ordering is preserved; each worker owns a bounded queue
// and the broker callback blocks when it is full.
type Pipeline struct {
	cfg      Config
	detector *detector.Manager
	registry *baseline.Registry
	store    VitalsStore
	pub      Publisher
	logger   logging.Logger
	metrics  *metrics.Metrics

	queues    []chan models.EnrichedSample
	closeOnce sync.Once
}

// New creates a pipeline. Workers and queue capacity fall back to
// defaults when unset.
func New(cfg Config, dm *detector.Manager, reg *baseline.Registry, st VitalsStore, pub Publisher, logger logging.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	queues := make([]chan models.EnrichedSample, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan models.EnrichedSample, cfg.QueueSize/cfg.Workers)
	}

	return &Pipeline{
		cfg:      cfg,
		detector: dm,
		registry: reg,
		store:    st,
		pub:      pub,
		logger:   logger,
		metrics:  m,
		queues:   queues,
	}
}

// Start runs the worker pool until every queue is closed and drained
func (p *Pipeline) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := range p.queues {
		queue := p.queues[i]
		eg.Go(func() error {
			for sample := range queue {
				p.process(ctx, sample)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close stops accepting samples; workers drain what is queued
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		for _, queue := range p.queues {
			close(queue)
		}
	})
}

// HandleRaw is the broker callback for the raw-vitals topic. It
// parses, validates and enriches the payload, then blocks until the
// owning worker's queue accepts it (backpressure, no in-process
// drops). Malformed payloads are counted and dropped.
func (p *Pipeline) HandleRaw(topic string, payload []byte) {
	sample, err := p.decode(payload)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Warn("Dropping malformed sample")
		p.countSample("parse_error")
		return
	}

	p.queues[p.partition(sample.UserID)] <- sample
}

func (p *Pipeline) decode(payload []byte) (models.EnrichedSample, error) {
	var raw models.RawSample
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.EnrichedSample{}, err
	}
	if raw.UserID == "" {
		raw.UserID = models.DefaultUserID
	}

	ts, err := models.ParseTimestamp(raw.Timestamp)
	if err != nil {
		return models.EnrichedSample{}, err
	}

	return models.EnrichedSample{
		RawSample:     raw,
		ActivityLevel: vitals.ActivityLevel(raw.Activity),
		Time:          ts,
	}, nil
}

func (p *Pipeline) partition(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// process handles one sample end-to-end. Persistence, alert fan-out
// and republication are independent; a failure in one never stops the
// others.
func (p *Pipeline) process(ctx context.Context, sample models.EnrichedSample) {
	alerts := p.detector.Active().Classify(sample)

	flagged := make(map[string]bool, len(alerts))
	for _, alert := range alerts {
		flagged[alert.Parameter] = true
	}

	// Learn only from readings the detector considered normal so
	// anomalies cannot poison the mean.
	for parameter, value := range vitals.Values(sample.RawSample) {
		if !flagged[parameter] {
			p.registry.Update(sample.UserID, sample.ActivityLevel, parameter, value)
		}
	}

	if err := p.store.InsertVitals(ctx, sample); err != nil {
		p.logger.WithError(err).Warn("Failed to persist sample")
	}

	for _, alert := range alerts {
		if err := p.store.InsertAlert(ctx, alert); err != nil {
			p.logger.WithError(err).WithField("parameter", alert.Parameter).Warn("Failed to persist alert")
		}
		if err := p.pub.Publish(p.cfg.AlertsTopic, alert); err != nil {
			p.logger.WithError(err).Error("Failed to publish alert")
		}
		p.countAlert(alert)
	}

	if err := p.pub.Publish(p.cfg.VitalsTopic, sample); err != nil {
		p.logger.WithError(err).Error("Failed to publish enriched sample")
	}

	p.countSample("processed")
}

func (p *Pipeline) countSample(status string) {
	if p.metrics != nil {
		p.metrics.Samples.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) countAlert(alert models.Alert) {
	if p.metrics != nil {
		p.metrics.Alerts.WithLabelValues(alert.Severity, alert.DetectorType).Inc()
	}
}
