package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/pipeline"
)

// AssistantClient talks to the third-party assistant-creation REST API.
type AssistantClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type AssistantConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewAssistantClient(cfg AssistantConfig) (*AssistantClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("assistants: base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assistants: api_key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &AssistantClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type createAssistantRequest struct {
	Name            string `json:"name"`
	Prompt          string `json:"prompt"`
	GreetingMessage string `json:"greeting_message"`
}

type createAssistantResponse struct {
	ID string `json:"id"`
}

func (c *AssistantClient) Create(ctx context.Context, p pipeline.AssistantParams) (string, error) {
	var resp createAssistantResponse
	err := c.do(ctx, http.MethodPost, "/agents", createAssistantRequest{
		Name:            p.Name,
		Prompt:          p.Prompt,
		GreetingMessage: p.Greeting,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", domain.Permanent(fmt.Errorf("assistant api returned no id"))
	}
	return resp.ID, nil
}

type setKnowledgeBaseRequest struct {
	FileID   string      `json:"file_id"`
	Messages []kbMessage `json:"messages"`
}

type kbMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *AssistantClient) SetKnowledgeBase(ctx context.Context, assistantID, fileID, description string) error {
	path := fmt.Sprintf("/agents/%s/knowledge_base", assistantID)
	return c.do(ctx, http.MethodPut, path, setKnowledgeBaseRequest{
		FileID: fileID,
		Messages: []kbMessage{
			{Role: "system", Content: description},
		},
	}, nil)
}

func (c *AssistantClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Permanent(fmt.Errorf("encode %s %s: %w", method, path, err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.Permanent(fmt.Errorf("build %s %s: %w", method, path, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.Transient(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return domain.Permanent(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transient(fmt.Errorf("read %s %s response: %w", method, path, err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Permanent(fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}
