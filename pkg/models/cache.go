package models

import "time"

// Operation types tagged on cache entries and call records. Lookups never
// cross operation types.
const (
	OpCodeModification   = "code_modification"
	OpTestCaseGeneration = "test_case_generation"
	OpProblemSolve       = "leetcode_solve"
)

// Metadata is an open key-value map attached to cache entries and call
// records. During semantic lookup it acts as an equality filter: a cached
// entry is only comparable when every key the query supplies matches.
type Metadata map[string]string

// Matches reports whether every key in query has an equal value in m.
// A nil or empty query matches everything.
func (m Metadata) Matches(query Metadata) bool {
	for k, v := range query {
		if m[k] != v {
			return false
		}
	}
	return true
}

// CacheEntry is one cached LLM response, keyed by a fingerprint of
// (operation type, model, prompt).
type CacheEntry struct {
	ID            int64     `json:"id"`
	KeyHash       string    `json:"key_hash"`
	Prompt        string    `json:"prompt"`
	OperationType string    `json:"operation_type"`
	Model         string    `json:"model,omitempty"`
	ResponseText  string    `json:"response_text"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	AccessedAt    time.Time `json:"accessed_at"`
	AccessCount   int64     `json:"access_count"`

	// Populated only when the entry was matched semantically rather than by
	// exact hash.
	SemanticHit   bool    `json:"semantic_cache_hit,omitempty"`
	Similarity    float64 `json:"similarity_score,omitempty"`
	CurrentPrompt string  `json:"current_prompt,omitempty"`
}

// CacheEntrySummary is a truncated listing row for admin views.
type CacheEntrySummary struct {
	ID              int64     `json:"id"`
	KeyHash         string    `json:"key_hash"`
	OperationType   string    `json:"operation_type"`
	Model           string    `json:"model,omitempty"`
	PromptPreview   string    `json:"prompt_preview"`
	ResponsePreview string    `json:"response_preview"`
	CreatedAt       time.Time `json:"created_at"`
	AccessedAt      time.Time `json:"accessed_at"`
	AccessCount     int64     `json:"access_count"`
}

// CacheStats reports aggregate cache state.
type CacheStats struct {
	TotalEntries       int64            `json:"total_entries"`
	TotalAccesses      int64            `json:"total_accesses"`
	AvgAccessesPerItem float64          `json:"avg_accesses_per_entry"`
	OperationBreakdown map[string]int64 `json:"operation_breakdown"`
	TTLHours           float64          `json:"ttl_hours"`
}
