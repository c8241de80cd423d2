// Package api contains the request and response contracts of the promotions
// workflow HTTP API. Version v1 represents the current stable API version.
package api

import "promoflow/pkg/contracts/domain"

// DatasetRequest loads a dataset from JSON instead of a file upload
type DatasetRequest struct {
	FileName string     `json:"file_name" validate:"required,filename"`
	Columns  []string   `json:"columns" validate:"required,min=1"`
	Rows     [][]string `json:"rows" validate:"dive,max=1000"`
}

// MarketRequest selects the destination market
type MarketRequest struct {
	Market string `json:"market" validate:"max=64"`
}

// ViewRequest holds the view query parameters
type ViewRequest struct {
	Filter string `query:"filter"`
	Limit  string `query:"limit"`
}

// ExportRequest holds the export query parameters
type ExportRequest struct {
	Filter string `query:"filter"`
	Format string `query:"format"`
}

// LogsRequest holds the log query parameters
type LogsRequest struct {
	Limit int `query:"limit" validate:"min=0,max=1000"`
}

// SessionCreatedResponse is returned when a session is opened
type SessionCreatedResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// LogsResponse lists activity entries, newest first
type LogsResponse struct {
	Entries []domain.LogEntry `json:"entries"`
	Count   int               `json:"count"`
}
