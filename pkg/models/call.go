package models

import "time"

// CallRecord is one audited LLM call, successful or failed.
type CallRecord struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	OperationType  string    `json:"operation_type"`
	Model          string    `json:"model,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	Response       string    `json:"response,omitempty"`
	TokensSent     int       `json:"tokens_sent"`
	TokensReceived int       `json:"tokens_received"`
	LatencyMs      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CallQueryOpts specifies filters for querying call records.
type CallQueryOpts struct {
	OperationType string
	Model         string
	Since         time.Time
	ErrorsOnly    bool
	Limit         int
}

// CallStat holds aggregate call counts for an operation/day combination.
type CallStat struct {
	OperationType string  `json:"operation_type"`
	Day           string  `json:"day"`
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TotalTokens   int64   `json:"total_tokens"`
}
