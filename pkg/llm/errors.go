package llm

import (
	"errors"
	"strings"
)

// ErrorCategory classifies backend failures so callers can pick a degraded
// fallback reply without parsing provider-specific error strings themselves.
type ErrorCategory string

const (
	// CategoryAuth 憑證缺失或無效（API key 錯誤、401 等）
	CategoryAuth ErrorCategory = "auth"
	// CategoryBackend 網路或後端服務失敗
	CategoryBackend ErrorCategory = "backend"
	// CategoryNoContent 模型回應為空（沒有 candidates、沒有 parts）
	CategoryNoContent ErrorCategory = "no_content"
)

// CategorizedError wraps an underlying failure with its gateway category.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// NewCategorizedError wraps err with an explicit category.
func NewCategorizedError(cat ErrorCategory, err error) *CategorizedError {
	return &CategorizedError{Category: cat, Err: err}
}

// CategoryOf resolves the gateway category of an error. Explicit categories
// win; otherwise the error string is classified the same way the provider
// clients classify transient errors.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "api key") ||
		strings.Contains(msg, "api_key") ||
		strings.Contains(msg, "credential") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "permission denied") {
		return CategoryAuth
	}

	if strings.Contains(msg, "no candidates") ||
		strings.Contains(msg, "no content") ||
		strings.Contains(msg, "empty response") {
		return CategoryNoContent
	}

	return CategoryBackend
}

// CannedReply returns the degraded conversational fallback shown to the user
// when the backend fails. Nothing from the gateway ever surfaces as a raw
// stack trace.
func CannedReply(cat ErrorCategory) string {
	switch cat {
	case CategoryAuth:
		return "⚠️ The AI backend rejected our credentials. Please check the configured API key and try again."
	case CategoryNoContent:
		return "🤔 The AI returned an empty response. Please try rephrasing your request."
	default:
		return "❌ I couldn't reach the AI backend just now. Please try again in a moment."
	}
}
