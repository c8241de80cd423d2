package config

import "time"

// Application constants
const (
	AppName   = "promoflow"
	EnvPrefix = "PROMOFLOW"

	// ConfigEnvVar names the YAML config file
	ConfigEnvVar = "PROMOFLOW_CONFIG"
)

// Workflow defaults
const (
	DefaultSchema         = "promo-retail"
	DefaultTablePrefix    = "original_data"
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultLargeFileMB    = 10
	DefaultStreamingMB    = 5
	DefaultMaxUploadMB    = 200
	DefaultMaxLogEntries  = 50
	DefaultSessionIdleTTL = 12 * time.Hour
)

// DefaultMarkets is the market enumeration
var DefaultMarkets = []string{"US", "UK", "DE", "FR", "IT"}

// DefaultRowLimits are the row-limit choices of the data view
var DefaultRowLimits = []string{"10", "25", "50", "100", "All"}

// DefaultPreviewLimits are the row-limit choices before validation
var DefaultPreviewLimits = []string{"5", "10", "20", "All"}

// Warehouse defaults
const (
	DefaultWarehouseDriver = "sqlite3"
	DefaultWarehouseDSN    = "file:promoflow_warehouse.db?_busy_timeout=5000"
	DefaultBatchSize       = 500
)
