package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBroker struct {
	connected bool
}

func (f fakeBroker) IsConnected() bool { return f.connected }

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("healthmon", "test")
	hc.AddCheck("always_ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}

	hc.AddCheck("broker", BrokerHealthCheck(fakeBroker{connected: false}))
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded with broker down, got %s", got)
	}

	hc.AddCheck("failing", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "boom"}
	})
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestBrokerHealthCheck(t *testing.T) {
	if got := BrokerHealthCheck(fakeBroker{connected: true})().Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}
	if got := BrokerHealthCheck(fakeBroker{connected: false})().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	if got := BrokerHealthCheck(nil)().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil client, got %s", got)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{"DB_NAME": "health_monitoring"})
	if got := check().Status; got != StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}

	check = ConfigurationHealthCheck(map[string]string{"DB_NAME": ""})
	if got := check().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy on missing config, got %s", got)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker("healthmon", "test")
	hc.AddCheck("db", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "down"}
	})

	router := gin.New()
	router.GET("/health", hc.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.Checks["db"].Message != "down" {
		t.Fatalf("unexpected check result %+v", status.Checks["db"])
	}
}
