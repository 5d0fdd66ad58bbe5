// Package cache defines the prompt cache's keying policy.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the deterministic cache key for a prompt. When
// modelAware is true the target model participates in the key, so switching
// models never reuses another model's answer; when false identical text hits
// regardless of model.
func Fingerprint(operationType, model, prompt string, modelAware bool) string {
	h := sha256.New()
	h.Write([]byte(operationType))
	h.Write([]byte(":"))
	if modelAware {
		if model == "" {
			model = "unknown"
		}
		h.Write([]byte(model))
		h.Write([]byte(":"))
	}
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
