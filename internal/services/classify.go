package services

import (
	"strings"

	"multimodal-backend/internal/models"
)

// codeKeywords mark a prompt as asking for source code. Matching is a plain
// case-insensitive substring test, so "javascript" matches both "java" and "js".
var codeKeywords = []string{"code", "python", "html", "css", "js", "react", "c++", "java"}

// IsCodeIntent reports whether the prompt asks for source code.
func IsCodeIntent(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DeliveryFor picks block rendering for code prompts and word streaming otherwise.
func DeliveryFor(prompt string) models.Delivery {
	if IsCodeIntent(prompt) {
		return models.DeliveryBlock
	}
	return models.DeliveryStream
}
