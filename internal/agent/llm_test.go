package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLM_Validation(t *testing.T) {
	_, err := NewLLM(LLMConfig{Model: "claude-sonnet-4-20250514"})
	assert.Error(t, err)

	_, err = NewLLM(LLMConfig{APIKey: "key"})
	assert.Error(t, err)

	l, err := NewLLM(LLMConfig{APIKey: "key", Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		err       string
		transient bool
	}{
		{"429 Too Many Requests", true},
		{"rate limit exceeded", true},
		{"model overloaded", true},
		{"502 Bad Gateway", true},
		{"request timeout", true},
		{"400 invalid_request_error", false},
		{"401 authentication_error", false},
	}

	for _, tt := range tests {
		got := classifyAPIError("llm request", errors.New(tt.err))
		assert.Equal(t, tt.transient, domain.IsTransient(got), tt.err)
		assert.Equal(t, !tt.transient, domain.IsPermanent(got), tt.err)
	}
}

func TestPageDigest(t *testing.T) {
	pages := map[string]string{
		"https://example.com/b": "second",
		"https://example.com/a": "first",
		"https://example.com/c": strings.Repeat("x", pageExcerptLimit+100),
	}

	digest := pageDigest(pages)

	// deterministic URL order
	assert.Less(t, strings.Index(digest, "/a"), strings.Index(digest, "/b"))
	assert.Contains(t, digest, "first")
	assert.Contains(t, digest, "second")

	// long pages are truncated
	assert.Less(t, len(digest), 2*pageExcerptLimit)
}
