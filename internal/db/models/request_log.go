package models

// RequestLog stores one proxied request for monitoring and diagnosis.
type RequestLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	Status       int    `json:"status"`
	Duration     int64  `json:"duration"` // milliseconds
	Provider     string `gorm:"index" json:"provider,omitempty"`
	Model        string `gorm:"index" json:"model,omitempty"`
	CredentialID string `gorm:"index" json:"credential_id,omitempty"`
	Error        string `json:"error,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Streamed     bool   `json:"streamed"`
}

// RequestStats holds aggregated statistics for request logs.
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
