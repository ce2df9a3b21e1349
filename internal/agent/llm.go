package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const pageExcerptLimit = 4000

// LLM generates the assistant's system prompt and the knowledge-base
// description from scraped page content.
type LLM struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &LLM{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (l *LLM) SystemPrompt(ctx context.Context, siteURL string, pages map[string]string) (string, error) {
	prompt := fmt.Sprintf(
		"You are configuring a voice assistant for the company behind %s.\n"+
			"Write a system prompt for the assistant based on the website content below. "+
			"Reply with the system prompt only.\n\n%s",
		siteURL, pageDigest(pages),
	)

	out, err := l.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", domain.Permanent(fmt.Errorf("model returned an empty system prompt"))
	}
	return out, nil
}

func (l *LLM) KBDescription(ctx context.Context, pages map[string]string) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following website content into a short description of the "+
			"knowledge base it forms. Two to three sentences, plain text.\n\n%s",
		pageDigest(pages),
	)

	return l.complete(ctx, prompt)
}

func (l *LLM) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAPIError("llm request", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func pageDigest(pages map[string]string) string {
	urls := make([]string, 0, len(pages))
	for u := range pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	for _, u := range urls {
		content := pages[u]
		if len(content) > pageExcerptLimit {
			content = content[:pageExcerptLimit]
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", u, content)
	}
	return b.String()
}

// classifyAPIError sorts upstream API failures into the retryable bucket
// (rate limits, 5xx, capacity) or the permanent one (everything else).
func classifyAPIError(op string, err error) error {
	msg := strings.ToLower(err.Error())

	transient := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504")

	if transient {
		return domain.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return domain.Permanent(fmt.Errorf("%s: %w", op, err))
}
