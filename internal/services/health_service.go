package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"promoflow/internal/config"
	"promoflow/pkg/contracts"
)

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports the number of open sessions
type SessionCounter interface {
	SessionCount() int
}

// HubStats reports WebSocket hub counters
type HubStats interface {
	Stats() map[string]int64
}

// HealthService provides health check functionality
type HealthService struct {
	warehouse Pinger
	sessions  SessionCounter
	hub       HubStats
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. Any dependency may be nil.
func NewHealthService(warehouse Pinger, sessions SessionCounter, hub HubStats, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		warehouse: warehouse,
		sessions:  sessions,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// ReadinessCheck pings the warehouse and reports session and hub counters
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Services:  make(map[string]interface{}),
	}

	wh := hs.checkWarehouse(ctx)
	status.Services["warehouse"] = wh
	if wh.Status != "ready" {
		status.Status = "not_ready"
	}

	if hs.sessions != nil {
		status.Services["sessions"] = map[string]int{"active": hs.sessions.SessionCount()}
	}
	if hs.hub != nil {
		status.Services["websocket"] = hs.hub.Stats()
	}

	hs.logger.DebugContext(ctx, "readiness check", slog.String("status", status.Status))
	return status
}

func (hs *HealthService) checkWarehouse(ctx context.Context) ServiceHealth {
	if hs.warehouse == nil {
		return ServiceHealth{Status: "not_ready", Message: "warehouse not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := hs.warehouse.Ping(ctx); err != nil {
		hs.logger.WarnContext(ctx, "warehouse ping failed", slog.String("error", err.Error()))
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("warehouse unreachable: %v", err)}
	}
	return ServiceHealth{Status: "ready"}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	return map[string]interface{}{
		"name":        config.AppName,
		"version":     info.Version,
		"api_version": info.APIVersion,
		"build_time":  info.BuildTime,
		"git_commit":  info.GitCommit,
		"go_version":  info.GoVersion,
		"os":          info.OS,
		"arch":        info.Architecture,
		"uptime":      time.Since(hs.startTime).Seconds(),
		"start_time":  hs.startTime.Format(time.RFC3339),
	}
}
