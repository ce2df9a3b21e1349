package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssistantServer(t *testing.T, handler http.HandlerFunc) *AssistantClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAssistantClient(AssistantConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return client
}

func TestAssistantClient_Create(t *testing.T) {
	var gotAuth string
	var gotBody createAssistantRequest

	client := newAssistantServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/agents", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(createAssistantResponse{ID: "assistant-42"})
	})

	id, err := client.Create(context.Background(), pipeline.AssistantParams{
		Name:     "Example",
		Prompt:   "You are helpful.",
		Greeting: "Hi!",
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant-42", id)
	assert.Equal(t, "test-key", gotAuth)
	assert.Equal(t, "Example", gotBody.Name)
	assert.Equal(t, "Hi!", gotBody.GreetingMessage)
}

func TestAssistantClient_CreateNoID(t *testing.T) {
	client := newAssistantServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.Create(context.Background(), pipeline.AssistantParams{Name: "x"})
	assert.True(t, domain.IsPermanent(err))
}

func TestAssistantClient_SetKnowledgeBase(t *testing.T) {
	var gotBody setKnowledgeBaseRequest

	client := newAssistantServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/agents/assistant-42/knowledge_base", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	err := client.SetKnowledgeBase(context.Background(), "assistant-42", "file-7", "a summary")
	require.NoError(t, err)
	assert.Equal(t, "file-7", gotBody.FileID)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "a summary", gotBody.Messages[0].Content)
}

func TestAssistantClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newAssistantServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.Create(context.Background(), pipeline.AssistantParams{Name: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, domain.IsTransient(err))
			assert.Equal(t, !tt.transient, domain.IsPermanent(err))
		})
	}
}
