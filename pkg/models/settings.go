package models

// Settings is a point-in-time snapshot of the shared runtime settings.
type Settings struct {
	CacheEnabled        bool    `json:"cache_enabled"`
	ModelAwareCache     bool    `json:"model_aware_cache"`
	SemanticCache       bool    `json:"semantic_cache_enabled"`
	SimilarityThreshold float64 `json:"semantic_similarity_threshold"`
	CurrentModel        string  `json:"current_model"`
	RetrievalEnabled    bool    `json:"rag_enabled"`
}

// SettingsPatch carries optional updates to the runtime settings. Nil fields
// are left untouched.
type SettingsPatch struct {
	CacheEnabled        *bool    `json:"cache_enabled,omitempty"`
	ModelAwareCache     *bool    `json:"model_aware_cache,omitempty"`
	SemanticCache       *bool    `json:"semantic_cache_enabled,omitempty"`
	SimilarityThreshold *float64 `json:"semantic_similarity_threshold,omitempty"`
	CurrentModel        *string  `json:"current_model,omitempty"`
	RetrievalEnabled    *bool    `json:"rag_enabled,omitempty"`
}
