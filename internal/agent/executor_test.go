package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/llm"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"
)

func testSession(t *testing.T, fake *browser.Fake) *session.Handle {
	t.Helper()
	r := session.NewRegistry(browser.StaticFactory(fake), domain.SessionConfig{}, 1, 5*time.Second, logging.Nop())
	h, err := r.Create(context.Background(), "agent-test", domain.SessionConfig{})
	require.NoError(t, err)
	return h
}

// scriptedClient returns canned responses in order, repeating the last one.
func scriptedClient(responses ...string) *llm.MockClient {
	mock := &llm.MockClient{}
	mock.CompleteFunc = func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		i := len(mock.Requests) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		return &llm.CompletionResponse{Content: responses[i]}, nil
	}
	return mock
}

func TestParseAction(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		act, err := parseAction(`{"action": "click", "index": 3}`)
		require.NoError(t, err)
		assert.Equal(t, "click", act.Action)
		assert.Equal(t, 3, act.Index)
	})

	t.Run("fenced block", func(t *testing.T) {
		act, err := parseAction("Here is my next step:\n```json\n{\"action\": \"scroll\", \"direction\": \"down\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "scroll", act.Action)
		assert.Equal(t, "down", act.Direction)
	})

	t.Run("object embedded in prose", func(t *testing.T) {
		act, err := parseAction(`I will navigate now. {"action": "navigate", "url": "https://example.com/"} Done.`)
		require.NoError(t, err)
		assert.Equal(t, "navigate", act.Action)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := parseAction("I am not sure what to do.")
		assert.Error(t, err)
	})

	t.Run("missing action field", func(t *testing.T) {
		_, err := parseAction(`{"index": 3}`)
		assert.Error(t, err)
	})
}

func TestExecutorRunsToCompletion(t *testing.T) {
	fake := browser.NewFake()
	fake.PageElements = []domain.ElementInfo{
		{Tag: "input", Placeholder: "Search"},
		{Tag: "button", Text: "Go"},
	}
	sess := testSession(t, fake)

	mock := scriptedClient(
		`{"action": "navigate", "url": "https://example.com/"}`,
		`{"action": "type", "index": 0, "text": "golang"}`,
		`{"action": "click", "index": 1}`,
		`{"action": "done", "result": "submitted the search"}`,
	)
	e := NewExecutor(Config{Model: "gpt-4o"}, mock, logging.Nop())

	var steps []int
	result, err := e.Execute(context.Background(), sess, domain.TaskSpec{
		Description: "search for golang",
		MaxSteps:    10,
	}, func(n int) { steps = append(steps, n) })

	require.NoError(t, err)
	assert.Equal(t, "submitted the search", result)
	assert.Equal(t, []int{1, 2, 3, 4}, steps)
	assert.Equal(t, "https://example.com/", fake.ActiveURL())
	assert.Equal(t, "golang", fake.Typed(0))
	assert.Equal(t, []int{1}, fake.Clicked())
}

func TestExecutorStepPromptDescribesPage(t *testing.T) {
	fake := browser.NewFake()
	fake.PageElements = []domain.ElementInfo{{Tag: "a", Text: "Docs", Href: "/docs"}}
	sess := testSession(t, fake)
	require.NoError(t, sess.Navigate(context.Background(), "https://example.com/", false))

	mock := scriptedClient(`{"action": "done", "result": "ok"}`)
	e := NewExecutor(Config{}, mock, logging.Nop())

	_, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "look around", MaxSteps: 3}, nil)
	require.NoError(t, err)

	require.Len(t, mock.Requests, 1)
	prompt := mock.Requests[0].Messages[0].Content
	assert.Contains(t, prompt, "Task: look around")
	assert.Contains(t, prompt, "https://example.com/")
	assert.Contains(t, prompt, `[0] <a> "Docs"`)
	assert.Equal(t, systemPrompt, mock.Requests[0].System)
}

func TestExecutorFailAction(t *testing.T) {
	sess := testSession(t, browser.NewFake())
	mock := scriptedClient(`{"action": "fail", "reason": "page requires login"}`)
	e := NewExecutor(Config{}, mock, logging.Nop())

	_, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "x", MaxSteps: 5}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page requires login")
}

func TestExecutorExhaustsStepBudget(t *testing.T) {
	sess := testSession(t, browser.NewFake())
	mock := scriptedClient(`{"action": "scroll", "direction": "down"}`)
	e := NewExecutor(Config{}, mock, logging.Nop())

	_, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "scroll forever", MaxSteps: 3}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step budget")
	assert.Len(t, mock.Requests, 3)
}

func TestExecutorFeedsActionFailureBack(t *testing.T) {
	fake := browser.NewFake()
	// No elements, so the click must fail.
	sess := testSession(t, fake)

	mock := scriptedClient(
		`{"action": "click", "index": 5}`,
		`{"action": "done", "result": "gave up clicking"}`,
	)
	e := NewExecutor(Config{}, mock, logging.Nop())

	result, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "click something", MaxSteps: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gave up clicking", result)

	// The second request carries the failure observation from step one.
	require.Len(t, mock.Requests, 2)
	msgs := mock.Requests[1].Messages
	var sawFailure bool
	for _, m := range msgs {
		if m.Role == llm.RoleUser && strings.Contains(m.Content, "Action failed") {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestExecutorRecoversFromUnparseableResponse(t *testing.T) {
	sess := testSession(t, browser.NewFake())
	mock := scriptedClient(
		"Hmm, let me think about this.",
		`{"action": "done", "result": "ok"}`,
	)
	e := NewExecutor(Config{}, mock, logging.Nop())

	result, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "x", MaxSteps: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecutorUsesSpecModelOverride(t *testing.T) {
	sess := testSession(t, browser.NewFake())
	mock := scriptedClient(`{"action": "done", "result": "ok"}`)
	e := NewExecutor(Config{Model: "gpt-4o"}, mock, logging.Nop())

	_, err := e.Execute(context.Background(), sess, domain.TaskSpec{Description: "x", MaxSteps: 2, Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	require.Len(t, mock.Requests, 1)
	assert.Equal(t, "gpt-4o-mini", mock.Requests[0].Model)
}
