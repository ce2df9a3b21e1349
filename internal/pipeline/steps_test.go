package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/infra/store/kv"
	"github.com/karthikpremaram/mills-new/internal/task"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	pages map[string]string
	links []string
	fail  map[string]error
}

func (f *fakeScraper) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err, ok := f.fail[pageURL]; ok {
		return "", err
	}
	html, ok := f.pages[pageURL]
	if !ok {
		return "", domain.Transient(errors.New("unreachable: " + pageURL))
	}
	return html, nil
}

func (f *fakeScraper) Links(baseURL, html string, max int) []string {
	if max < len(f.links) {
		return f.links[:max]
	}
	return f.links
}

type fakeLLM struct{}

func (fakeLLM) SystemPrompt(ctx context.Context, siteURL string, pages map[string]string) (string, error) {
	return "You are a helpful voice assistant.", nil
}

func (fakeLLM) KBDescription(ctx context.Context, pages map[string]string) (string, error) {
	return "A knowledge base about the company.", nil
}

type fakeAssistants struct {
	created  AssistantParams
	kbParams [3]string
}

func (f *fakeAssistants) Create(ctx context.Context, p AssistantParams) (string, error) {
	f.created = p
	return "assistant-42", nil
}

func (f *fakeAssistants) SetKnowledgeBase(ctx context.Context, assistantID, fileID, description string) error {
	f.kbParams = [3]string{assistantID, fileID, description}
	return nil
}

type fakeKB struct {
	name, text string
}

func (f *fakeKB) Upload(ctx context.Context, name, text string) (string, error) {
	f.name, f.text = name, text
	return "file-7", nil
}

func newStepsTask(t *testing.T, mainURL string) (*task.Manager, domain.Task) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := task.NewManager(kv.NewRedisStore(client))
	created, _, err := m.Create(context.Background(), domain.TaskInput{
		MainURL:       mainURL,
		AssistantName: "Example",
	}, "")
	require.NoError(t, err)

	return m, created
}

func TestSteps_FullPipeline(t *testing.T) {
	m, created := newStepsTask(t, "https://example.com")
	ctx := context.Background()

	scraper := &fakeScraper{
		pages: map[string]string{
			"https://example.com":         "welcome page",
			"https://example.com/about":   "about us",
			"https://example.com/pricing": "pricing details",
		},
		links: []string{"https://example.com/about", "https://example.com/pricing"},
	}
	assistants := &fakeAssistants{}
	kb := &fakeKB{}

	steps := Steps(Collaborators{
		Scraper:    scraper,
		LLM:        fakeLLM{},
		Assistants: assistants,
		KB:         kb,
		MaxPages:   5,
	})

	require.NoError(t, NewRunner(m, steps).Run(ctx, created))

	got, err := m.Task(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, got.State)
	assert.Equal(t, 100, got.Percent)
	assert.Equal(t, "assistant-42", got.Result)

	assert.Equal(t, "Example", assistants.created.Name)
	assert.Contains(t, assistants.created.Greeting, "Example")
	assert.Equal(t, "assistant-42", assistants.kbParams[0])
	assert.Equal(t, "file-7", assistants.kbParams[1])

	assert.Equal(t, "Example.txt", kb.name)
	assert.Contains(t, kb.text, "about us")
	assert.Contains(t, kb.text, "pricing details")
}

func TestSteps_FanOutToleratesLinkFailures(t *testing.T) {
	m, created := newStepsTask(t, "https://example.com")
	ctx := context.Background()

	scraper := &fakeScraper{
		pages: map[string]string{
			"https://example.com":       "welcome page",
			"https://example.com/about": "about us",
		},
		links: []string{"https://example.com/about", "https://example.com/broken"},
		fail: map[string]error{
			"https://example.com/broken": domain.Transient(errors.New("status 503")),
		},
	}
	kb := &fakeKB{}

	steps := Steps(Collaborators{
		Scraper:    scraper,
		LLM:        fakeLLM{},
		Assistants: &fakeAssistants{},
		KB:         kb,
		MaxPages:   5,
	})

	require.NoError(t, NewRunner(m, steps).Run(ctx, created))

	got, err := m.Task(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, got.State)

	assert.Contains(t, kb.text, "about us")
	assert.NotContains(t, kb.text, "broken")
}

func TestSteps_MainPageFailureFailsStep(t *testing.T) {
	m, created := newStepsTask(t, "https://example.com")
	ctx := context.Background()

	scraper := &fakeScraper{
		pages: map[string]string{},
		fail: map[string]error{
			"https://example.com": domain.Transient(errors.New("status 502")),
		},
	}

	steps := Steps(Collaborators{
		Scraper:    scraper,
		LLM:        fakeLLM{},
		Assistants: &fakeAssistants{},
		KB:         &fakeKB{},
		MaxPages:   5,
	})

	err := NewRunner(m, steps).Run(ctx, created)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	got, terr := m.Task(ctx, created.ID)
	require.NoError(t, terr)
	assert.Equal(t, domain.StateRunning, got.State)
}

func TestSteps_InvalidURLFailsPermanently(t *testing.T) {
	m, created := newStepsTask(t, "ftp://example.com")
	ctx := context.Background()

	steps := Steps(Collaborators{
		Scraper:    &fakeScraper{},
		LLM:        fakeLLM{},
		Assistants: &fakeAssistants{},
		KB:         &fakeKB{},
	})

	err := NewRunner(m, steps).Run(ctx, created)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))

	got, terr := m.Task(ctx, created.ID)
	require.NoError(t, terr)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.True(t, strings.Contains(got.ErrorMessage, "validate_inputs"))
}
