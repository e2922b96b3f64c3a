package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthmon/internal/baseline"
	"healthmon/internal/detector"
	"healthmon/internal/handlers"
	"healthmon/internal/metrics"
	"healthmon/internal/pipeline"
	"healthmon/internal/store"
	"healthmon/internal/trends"
	"healthmon/pkg/config"
	"healthmon/pkg/database"
	"healthmon/pkg/llm"
	"healthmon/pkg/logging"
	"healthmon/pkg/monitoring"
	"healthmon/pkg/mqtt"
	"healthmon/pkg/server"
	"healthmon/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("healthmon")
	config.LoadEnv(logger)

	logger.Info("Starting healthmon (vital-signs monitoring backend)")

	brokerHost := config.GetEnv("MQTT_BROKER", "localhost")
	brokerPort := config.GetEnvInt("MQTT_PORT", 1883)
	rawTopic := config.GetEnv("MQTT_RAW_TOPIC", "health/raw_vitals")
	vitalsTopic := config.GetEnv("MQTT_VITALS_TOPIC", "health/vitals")
	alertsTopic := config.GetEnv("MQTT_ALERTS_TOPIC", "health/alerts")
	configTopic := config.GetEnv("MQTT_CONFIG_TOPIC", "health/config")

	// Connect to TimescaleDB
	dbConfig := database.DefaultConfig()
	dbConfig.Host = config.GetEnv("DB_HOST", "localhost")
	dbConfig.Port = config.GetEnvInt("DB_PORT", 5432)
	dbConfig.Name = config.GetEnv("DB_NAME", "health_monitoring")
	dbConfig.User = config.GetEnv("DB_USER", "postgres")
	dbConfig.Password = config.GetEnv("DB_PASSWORD", "password")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("healthmon", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("healthmon", version.Version, version.GitCommit)

	serviceMetrics := &metrics.Metrics{
		BrokerMessages: metricsCollector.NewCounter("broker_messages_total", "MQTT messages received", []string{"topic", "status"}),
		Samples:        metricsCollector.NewCounter("samples_total", "Samples processed", []string{"status"}),
		Alerts:         metricsCollector.NewCounter("alerts_total", "Alerts emitted", []string{"severity", "detector_type"}),
		StoreWrites:    metricsCollector.NewCounter("store_writes_total", "Time-series store writes", []string{"table", "status"}),
		QueryDuration:  metricsCollector.NewHistogram("query_duration_seconds", "Store query duration", []string{"query"}, nil),
		LLMRequests:    metricsCollector.NewCounter("llm_requests_total", "LLM proxy requests", []string{"status"}),
	}

	vitalsStore := store.New(db, logger, serviceMetrics)
	if err := vitalsStore.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to initialize database schema")
	}

	// Shared state: baseline registry and detector configuration
	registry := baseline.NewRegistry()
	detectorManager := detector.NewManager(registry)

	// Broker gateway
	mqttClient := mqtt.NewClient(mqtt.Config{
		BrokerHost: brokerHost,
		BrokerPort: brokerPort,
		ClientID:   fmt.Sprintf("healthmon-%d", os.Getpid()),
	}, logger)

	// Ingestion pipeline
	pipelineConfig := pipeline.Config{
		Workers:     config.GetEnvInt("INGEST_WORKERS", 4),
		QueueSize:   config.GetEnvInt("INGEST_QUEUE_SIZE", 1024),
		VitalsTopic: vitalsTopic,
		AlertsTopic: alertsTopic,
	}
	pipe := pipeline.New(pipelineConfig, detectorManager, registry, vitalsStore, mqttClient, logger, serviceMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipe.Start(ctx); err != nil {
			logger.WithError(err).Error("Ingestion pipeline error")
		}
	}()

	// HTTP API
	trendAggregator := trends.NewAggregator(vitalsStore, logger, serviceMetrics)
	llmClient := llm.NewClient(llm.LoadConfig())
	apiHandlers := handlers.New(vitalsStore, trendAggregator, detectorManager, registry, mqttClient, llmClient, configTopic, logger, serviceMetrics)

	mqttClient.Subscribe(rawTopic, func(topic string, payload []byte) {
		serviceMetrics.BrokerMessages.WithLabelValues(topic, "received").Inc()
		pipe.HandleRaw(topic, payload)
	})
	mqttClient.Subscribe(configTopic, func(topic string, payload []byte) {
		serviceMetrics.BrokerMessages.WithLabelValues(topic, "received").Inc()
		apiHandlers.HandleConfigMessage(topic, payload)
	})

	if err := mqttClient.Connect(); err != nil {
		// The client keeps retrying in the background
		logger.WithError(err).Warn("MQTT broker not reachable yet")
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("mqtt", monitoring.BrokerHealthCheck(mqttClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"MQTT_BROKER": brokerHost,
		"DB_NAME":     dbConfig.Name,
	}))

	router := server.SetupRouter(logger, healthChecker, metricsCollector)
	apiHandlers.Register(router)

	go func() {
		serverConfig := server.DefaultConfig("healthmon", "5001")
		if err := server.Start(serverConfig, router, logger); err != nil {
			logger.WithError(err).Error("HTTP server error")
		}
	}()

	logger.WithFields(logging.Fields{
		"broker":    fmt.Sprintf("%s:%d", brokerHost, brokerPort),
		"raw_topic": rawTopic,
		"workers":   pipelineConfig.Workers,
	}).Info("healthmon started")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down healthmon...")

	// Stop the consumer first so no new samples arrive, then let the
	// workers drain what is queued.
	mqttClient.Disconnect()
	pipe.Close()
	select {
	case <-pipelineDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Ingestion pipeline did not drain in time")
	}
	cancel()

	logger.Info("healthmon stopped")
}
