package models

// TaskRequest describes one logical LLM operation to execute.
type TaskRequest struct {
	Prompt        string
	OperationType string
	Model         string
	Metadata      Metadata
	// PostProcessor is applied to the response text before it is returned,
	// never before it is cached.
	PostProcessor func(string) string
	UseCache      bool
	ModelAware    bool
}

// TaskResult is the outcome of executing a task.
type TaskResult struct {
	Success        bool    `json:"success"`
	RequestID      string  `json:"request_id"`
	Response       string  `json:"response,omitempty"`
	Error          string  `json:"error,omitempty"`
	FromCache      bool    `json:"from_cache"`
	SemanticHit    bool    `json:"semantic_cache_hit,omitempty"`
	Similarity     float64 `json:"similarity_score,omitempty"`
	CachedPrompt   string  `json:"cached_prompt,omitempty"`
	CurrentPrompt  string  `json:"current_prompt,omitempty"`
	LatencyMs      int64   `json:"latency_ms,omitempty"`
	TokensSent     int     `json:"tokens_sent,omitempty"`
	TokensReceived int     `json:"tokens_received,omitempty"`
	RetrievedDocs  int     `json:"rag_doc_count"`
}
