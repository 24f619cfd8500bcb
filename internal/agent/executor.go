// Package agent runs natural-language browser tasks as an observe/act loop
// against a session, with an LLM choosing each action.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/browserdeck/browserdeck/internal/llm"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"

	"github.com/browserdeck/browserdeck/internal/domain"
)

// Config tunes the executor.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Executor drives one task to completion: it snapshots the page, asks the
// LLM for the next action, applies it, and repeats until the LLM reports
// done or the step budget runs out.
type Executor struct {
	cfg    Config
	client llm.Client
	log    *logging.Logger
}

// NewExecutor creates an executor backed by client.
func NewExecutor(cfg Config, client llm.Client, log *logging.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		client: client,
		log:    log.Sub("agent"),
	}
}

// action is one step decision parsed from the LLM response.
type action struct {
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	NewTab    bool   `json:"new_tab,omitempty"`
	Index     int    `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
	Result    string `json:"result,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// fencedJSONRe matches ```json ... ``` blocks in LLM output.
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(\\{.*?\\})\\s*```")

// parseAction extracts the action object from the LLM response, accepting
// either a fenced JSON block or a bare object.
func parseAction(text string) (action, error) {
	raw := strings.TrimSpace(text)
	if m := fencedJSONRe.FindStringSubmatch(raw); len(m) == 2 {
		raw = m[1]
	} else if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}

	var act action
	if err := json.Unmarshal([]byte(raw), &act); err != nil {
		return action{}, fmt.Errorf("parsing action: %w", err)
	}
	if act.Action == "" {
		return action{}, fmt.Errorf("parsing action: missing action field")
	}
	return act, nil
}

// Execute runs spec against sess. It returns the final result text on
// success; progress, when non-nil, is called with the completed step count
// after each step. An exhausted step budget counts as failure.
func (e *Executor) Execute(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, progress func(steps int)) (string, error) {
	log := e.log.Sub("task")
	log.Info().Str("session_id", sess.ID()).Int("max_steps", spec.MaxSteps).Msg("task started")

	model := spec.Model
	if model == "" {
		model = e.cfg.Model
	}

	var transcript []llm.Message
	for step := 1; step <= spec.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		state, err := sess.State(ctx, false)
		if err != nil {
			return "", fmt.Errorf("reading page state: %w", err)
		}

		messages := append(transcript, llm.Message{
			Role:    llm.RoleUser,
			Content: buildStepPrompt(spec.Description, step, spec.MaxSteps, state),
		})
		resp, err := e.client.Complete(ctx, llm.CompletionRequest{
			Model:       model,
			System:      systemPrompt,
			Messages:    messages,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}

		transcript = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		act, err := parseAction(resp.Content)
		if err != nil {
			// Feed the parse failure back; malformed decisions still
			// consume a step so a stuck model cannot loop forever.
			log.Warn().Int("step", step).Err(err).Msg("unparseable action")
			transcript = append(transcript, llm.Message{
				Role:    llm.RoleUser,
				Content: "Your last response was not a valid action object. Reply with exactly one JSON action.",
			})
			if progress != nil {
				progress(step)
			}
			continue
		}

		log.Debug().Int("step", step).Str("action", act.Action).Msg("applying action")

		switch act.Action {
		case "done":
			if progress != nil {
				progress(step)
			}
			log.Info().Int("steps", step).Msg("task completed")
			return act.Result, nil
		case "fail":
			if progress != nil {
				progress(step)
			}
			reason := act.Reason
			if reason == "" {
				reason = "agent gave up"
			}
			return "", fmt.Errorf("task failed: %s", reason)
		}

		observation := "OK"
		if err := e.apply(ctx, sess, act); err != nil {
			log.Warn().Int("step", step).Str("action", act.Action).Err(err).Msg("action failed")
			observation = fmt.Sprintf("Action failed: %v", err)
		}
		transcript = append(transcript, llm.Message{
			Role:    llm.RoleUser,
			Content: observation,
		})

		if progress != nil {
			progress(step)
		}
	}

	return "", fmt.Errorf("step budget of %d exhausted before completion", spec.MaxSteps)
}

// apply performs one browser action. Errors are observations for the next
// step, not task failures; only the LLM or the budget ends the task.
func (e *Executor) apply(ctx context.Context, sess *session.Handle, act action) error {
	switch act.Action {
	case "navigate":
		return sess.Navigate(ctx, act.URL, act.NewTab)
	case "click":
		return sess.Click(ctx, act.Index)
	case "type":
		return sess.Type(ctx, act.Index, act.Text)
	case "key":
		return sess.PressKey(ctx, act.Key)
	case "scroll":
		return sess.Scroll(ctx, act.Direction)
	case "back":
		return sess.GoBack(ctx)
	case "switch_tab":
		return sess.SwitchTab(ctx, act.Index)
	case "close_tab":
		return sess.CloseTab(ctx, act.Index)
	default:
		return fmt.Errorf("unknown action %q", act.Action)
	}
}
