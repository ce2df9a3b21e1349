package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Collaborator contracts consumed by the default pipeline. Each operation
// returns a payload or a classified (transient vs permanent) error; the
// pipeline never inspects payloads beyond forwarding them between steps.

type Scraper interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
	Links(baseURL, html string, max int) []string
}

type LLM interface {
	SystemPrompt(ctx context.Context, siteURL string, pages map[string]string) (string, error)
	KBDescription(ctx context.Context, pages map[string]string) (string, error)
}

type AssistantParams struct {
	Name     string
	Prompt   string
	Greeting string
}

type Assistants interface {
	Create(ctx context.Context, p AssistantParams) (string, error)
	SetKnowledgeBase(ctx context.Context, assistantID, fileID, description string) error
}

type KBStore interface {
	Upload(ctx context.Context, name, text string) (string, error)
}

// Collaborators bundles the external operations the assistant-creation
// pipeline invokes.
type Collaborators struct {
	Scraper    Scraper
	LLM        LLM
	Assistants Assistants
	KB         KBStore

	// MaxPages bounds the fan-out of the page fetch step.
	MaxPages int
}

// Steps builds the assistant-creation pipeline. Weights sum to 100.
func Steps(c Collaborators) []StepDef {
	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	return []StepDef{
		{
			Step: domain.Step{Name: "validate_inputs", Weight: 5},
			Run: func(ctx context.Context, job *Job) error {
				u, err := url.Parse(job.Task.Input.MainURL)
				if err != nil {
					return domain.Permanent(fmt.Errorf("invalid main_url: %w", err))
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return domain.Permanent(fmt.Errorf("main_url must start with http:// or https://"))
				}
				if u.Host == "" {
					return domain.Permanent(fmt.Errorf("main_url has no host"))
				}
				return nil
			},
		},
		{
			Step: domain.Step{Name: "fetch_pages", Weight: 35},
			Run: func(ctx context.Context, job *Job) error {
				return fetchPages(ctx, c.Scraper, maxPages, job)
			},
		},
		{
			Step: domain.Step{Name: "extract_knowledge", Weight: 15},
			Run: func(ctx context.Context, job *Job) error {
				prompt, err := c.LLM.SystemPrompt(ctx, job.Task.Input.MainURL, job.Pages)
				if err != nil {
					return err
				}
				job.SystemPrompt = prompt
				job.KnowledgeBase = buildKnowledgeBase(job.Pages)
				return nil
			},
		},
		{
			Step: domain.Step{Name: "generate_descriptions", Weight: 15},
			Run: func(ctx context.Context, job *Job) error {
				desc, err := c.LLM.KBDescription(ctx, job.Pages)
				if err != nil {
					return err
				}
				if desc == "" {
					return domain.Permanent(fmt.Errorf("empty knowledge base description"))
				}
				job.KBDescription = desc
				return nil
			},
		},
		{
			Step: domain.Step{Name: "create_agents", Weight: 10},
			Run: func(ctx context.Context, job *Job) error {
				name := assistantName(job.Task.Input)
				id, err := c.Assistants.Create(ctx, AssistantParams{
					Name:     name,
					Prompt:   job.SystemPrompt,
					Greeting: fmt.Sprintf("Hi, welcome to %s! May I know your name and what brings you here today?", name),
				})
				if err != nil {
					return err
				}
				job.AssistantID = id
				return nil
			},
		},
		{
			Step: domain.Step{Name: "upload_knowledge", Weight: 15},
			Run: func(ctx context.Context, job *Job) error {
				fileID, err := c.KB.Upload(ctx, assistantName(job.Task.Input)+".txt", job.KnowledgeBase)
				if err != nil {
					return err
				}
				job.FileID = fileID
				return c.Assistants.SetKnowledgeBase(ctx, job.AssistantID, fileID, job.KBDescription)
			},
		},
		{
			Step: domain.Step{Name: "finalize", Weight: 5},
			Run: func(ctx context.Context, job *Job) error {
				job.Result = job.AssistantID
				return nil
			},
		},
	}
}

// fetchPages fetches the main page, discovers same-site links, and fetches
// them concurrently. Individual link failures are tolerated; the step fails
// only when not a single page could be fetched.
func fetchPages(ctx context.Context, scraper Scraper, maxPages int, job *Job) error {
	mainURL := job.Task.Input.MainURL

	mainHTML, err := scraper.Fetch(ctx, mainURL)
	if err != nil {
		return err
	}

	links := scraper.Links(mainURL, mainHTML, maxPages-1)
	total := 1 + len(links)

	pages := map[string]string{mainURL: mainHTML}
	var mu sync.Mutex
	var completed atomic.Int64

	completed.Store(1)
	job.Report(float64(1) / float64(total))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, link := range links {
		link := link
		eg.Go(func() error {
			html, ferr := scraper.Fetch(egCtx, link)
			if ferr == nil {
				mu.Lock()
				pages[link] = html
				mu.Unlock()
			}
			job.Report(float64(completed.Add(1)) / float64(total))
			// tolerated, the main page already succeeded
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	job.Pages = pages
	return nil
}

func buildKnowledgeBase(pages map[string]string) string {
	urls := make([]string, 0, len(pages))
	for u := range pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	for _, u := range urls {
		b.WriteString("## ")
		b.WriteString(u)
		b.WriteString("\n\n")
		b.WriteString(pages[u])
		b.WriteString("\n\n")
	}
	return b.String()
}

func assistantName(in domain.TaskInput) string {
	if in.AssistantName != "" {
		return in.AssistantName
	}
	if u, err := url.Parse(in.MainURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return "assistant"
}
