package domain

import "time"

// UploadResult is the structured outcome reported by a warehouse upload
type UploadResult struct {
	Success      bool       `json:"success"`
	TableName    string     `json:"table_name"`
	RowsUploaded int        `json:"rows_uploaded"`
	Message      string     `json:"message"`
	UploadTime   *time.Time `json:"upload_time,omitempty"`
}
