package detector

import (
	"fmt"
	"sync"

	"healthmon/internal/baseline"
	"healthmon/internal/models"
)

// Manager holds the process-wide detector configuration. Switches
// install a new immutable strategy object under the mutex; readers
// always see a consistent (config, strategy) pair.
type Manager struct {
	registry *baseline.Registry

	mu     sync.RWMutex
	cfg    models.DetectorConfig
	active Detector
}

// NewManager creates a manager with the range-based detector active
// for the default user
func NewManager(registry *baseline.Registry) *Manager {
	return &Manager{
		registry: registry,
		cfg: models.DetectorConfig{
			DetectorType: models.DetectorRangeBased,
			UserID:       models.DefaultUserID,
		},
		active: NewRangeBased(),
	}
}

// Current returns the active configuration
func (m *Manager) Current() models.DetectorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Active returns the strategy to classify with
func (m *Manager) Active() Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Switch atomically replaces the active strategy
func (m *Manager) Switch(detectorType, userID string) (models.DetectorConfig, error) {
	if !models.ValidDetectorType(detectorType) {
		return models.DetectorConfig{}, fmt.Errorf("invalid detector type: %q", detectorType)
	}
	if userID == "" {
		return models.DetectorConfig{}, fmt.Errorf("user_id must not be empty")
	}

	var active Detector
	switch detectorType {
	case models.DetectorUserBaseline:
		active = NewUserBaseline(m.registry)
	default:
		active = NewRangeBased()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = models.DetectorConfig{DetectorType: detectorType, UserID: userID}
	m.active = active
	return m.cfg, nil
}
