// vitalsim publishes synthetic vital-signs samples to the raw topic.
// It exists for local development: point it and healthmon at the same
// broker and the whole pipeline lights up.
package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"healthmon/internal/models"
	"healthmon/internal/vitals"
	"healthmon/pkg/config"
	"healthmon/pkg/logging"
	"healthmon/pkg/mqtt"
)

func main() {
	logger := logging.NewLoggerWithService("vitalsim")
	config.LoadEnv(logger)

	brokerHost := config.GetEnv("MQTT_BROKER", "localhost")
	brokerPort := config.GetEnvInt("MQTT_PORT", 1883)
	topic := config.GetEnv("MQTT_RAW_TOPIC", "health/raw_vitals")
	userID := config.GetEnv("SIMULATOR_USER_ID", models.DefaultUserID)
	interval := time.Duration(config.GetEnvInt("SIMULATOR_INTERVAL", 5)) * time.Second
	anomalyRate := config.GetEnvFloat("SIMULATOR_ANOMALY_RATE", 0.05)

	client := mqtt.NewClient(mqtt.Config{
		BrokerHost: brokerHost,
		BrokerPort: brokerPort,
		ClientID:   "vitalsim-" + uuid.New().String()[:8],
	}, logger)
	if err := client.Connect(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer client.Disconnect()

	logger.WithFields(logging.Fields{
		"broker":   fmt.Sprintf("%s:%d", brokerHost, brokerPort),
		"topic":    topic,
		"interval": interval,
	}).Info("Simulator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			logger.Info("Simulator stopped")
			return
		case <-ticker.C:
			sample := generateSample(userID, anomalyRate)
			if err := client.Publish(topic, sample); err != nil {
				logger.WithError(err).Error("Failed to publish sample")
			}
		}
	}
}

// generateSample produces one plausible reading. With probability
// anomalyRate one or two parameters land outside their normal range.
func generateSample(userID string, anomalyRate float64) models.RawSample {
	activity := generateActivity()
	level := vitals.ActivityLevel(activity)

	anomalous := map[string]bool{}
	if rand.Float64() < anomalyRate {
		picks := 1 + rand.Intn(2)
		for _, i := range rand.Perm(len(vitals.Parameters))[:picks] {
			anomalous[vitals.Parameters[i]] = true
		}
	}

	values := make(map[string]float64, len(vitals.Parameters))
	for _, parameter := range vitals.Parameters {
		low, high, _ := vitals.NormalRange(parameter, level)
		if anomalous[parameter] {
			values[parameter] = outOfRangeValue(low, high)
		} else {
			values[parameter] = roundTenth(low + rand.Float64()*(high-low))
		}
	}

	return models.RawSample{
		Timestamp:              time.Now().Format(time.RFC3339),
		UserID:                 userID,
		Activity:               activity,
		HeartRate:              ptr(values[vitals.ParamHeartRate]),
		BloodPressureSystolic:  ptr(values[vitals.ParamBloodPressureSystolic]),
		BloodPressureDiastolic: ptr(values[vitals.ParamBloodPressureDiastolic]),
		Temperature:            ptr(values[vitals.ParamTemperature]),
		OxygenSaturation:       ptr(values[vitals.ParamOxygenSaturation]),
	}
}

// generateActivity skews toward rest: 60% low, 30% medium, 10% high
func generateActivity() float64 {
	switch roll := rand.Float64(); {
	case roll < 0.6:
		return float64(rand.Intn(51))
	case roll < 0.9:
		return float64(51 + rand.Intn(50))
	default:
		return float64(101 + rand.Intn(100))
	}
}

// outOfRangeValue lands just outside the range, up to 1.5 range
// widths away
func outOfRangeValue(low, high float64) float64 {
	width := high - low
	if rand.Intn(2) == 0 {
		return roundTenth(low - 0.1 - rand.Float64()*width*1.5)
	}
	return roundTenth(high + 0.1 + rand.Float64()*width*1.5)
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func ptr(v float64) *float64 {
	return &v
}
