package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/browserdeck/browserdeck/internal/domain"
)

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type createSessionParams struct {
	SessionID          string   `json:"session_id"`
	Headless           *bool    `json:"headless"`
	AllowedDomains     []string `json:"allowed_domains"`
	WaitBetweenActions *float64 `json:"wait_between_actions"` // seconds
}

type navigateParams struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	NewTab    bool   `json:"new_tab"`
}

type indexParams struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
}

type typeParams struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
}

type keyParams struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
}

type scrollParams struct {
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`
}

type stateParams struct {
	SessionID         string `json:"session_id"`
	IncludeScreenshot bool   `json:"include_screenshot"`
}

type tabParams struct {
	SessionID string `json:"session_id"`
	TabIndex  int    `json:"tab_index"`
}

type extractParams struct {
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
	ExtractLinks bool   `json:"extract_links"`
}

type runTaskParams struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	MaxSteps  int    `json:"max_steps"`
	Model     string `json:"model"`
}

type getTaskParams struct {
	TaskID string `json:"task_id"`
}

type retryTaskParams struct {
	Task               string   `json:"task"`
	MaxSteps           int      `json:"max_steps"`
	Model              string   `json:"model"`
	Headless           *bool    `json:"headless"`
	AllowedDomains     []string `json:"allowed_domains"`
	WaitBetweenActions *float64 `json:"wait_between_actions"` // seconds
}

func decode[T any](params json.RawMessage) (T, error) {
	var p T
	if err := json.Unmarshal(params, &p); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	return p, nil
}

// sessionOverrides merges optional per-request settings onto the base
// session configuration.
func (d *Dispatcher) sessionOverrides(headless *bool, allowedDomains []string, waitSeconds *float64) domain.SessionConfig {
	cfg := d.registry.BaseConfig()
	if headless != nil {
		cfg.Headless = *headless
	}
	if allowedDomains != nil {
		cfg.AllowedDomains = allowedDomains
	}
	if waitSeconds != nil {
		cfg.WaitBetweenActions = time.Duration(*waitSeconds * float64(time.Second))
	}
	return cfg
}

func (d *Dispatcher) definitions() []*operation {
	return []*operation{
		{
			name:        "create_browser_session",
			description: "Create a new browser session, optionally with an explicit id and per-session settings.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"session_id": {"type": "string"},
					"headless": {"type": "boolean"},
					"allowed_domains": {"type": "array", "items": {"type": "string"}},
					"wait_between_actions": {"type": "number", "minimum": 0}
				},
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[createSessionParams](params)
				if err != nil {
					return nil, err
				}
				cfg := d.sessionOverrides(p.Headless, p.AllowedDomains, p.WaitBetweenActions)
				h, err := d.registry.Create(ctx, p.SessionID, cfg)
				if err != nil {
					return nil, err
				}
				return h.Info(ctx), nil
			},
		},
		{
			name:        "list_browser_sessions",
			description: "List all active browser sessions.",
			rawSchema:   json.RawMessage(`{"type": "object", "additionalProperties": false}`),
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return map[string]any{"sessions": d.registry.List(ctx)}, nil
			},
		},
		{
			name:        "close_browser_session",
			description: "Close a browser session and release its browser.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"session_id": {"type": "string"}},
				"required": ["session_id"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[sessionParams](params)
				if err != nil {
					return nil, err
				}
				if err := d.registry.Close(ctx, p.SessionID); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": p.SessionID, "closed": true}, nil
			},
		},
		{
			name:        "browser_navigate",
			description: "Navigate the session's active tab to a URL, or open it in a new tab.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"},
					"session_id": {"type": "string"},
					"new_tab": {"type": "boolean"}
				},
				"required": ["url"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[navigateParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.Navigate(ctx, p.URL, p.NewTab); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "url": p.URL, "new_tab": p.NewTab}, nil
			},
		},
		{
			name:        "browser_click",
			description: "Click the interactive element at the given index on the current page.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"index": {"type": "integer", "minimum": 0},
					"session_id": {"type": "string"}
				},
				"required": ["index"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[indexParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.Click(ctx, p.Index); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "clicked": p.Index}, nil
			},
		},
		{
			name:        "browser_type",
			description: "Type text into the interactive element at the given index.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"index": {"type": "integer", "minimum": 0},
					"text": {"type": "string"},
					"session_id": {"type": "string"}
				},
				"required": ["index", "text"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[typeParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.Type(ctx, p.Index, p.Text); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "typed": p.Index}, nil
			},
		},
		{
			name:        "browser_key",
			description: "Send a keyboard key (e.g. Enter, Escape, ArrowDown) to the active tab.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"session_id": {"type": "string"}
				},
				"required": ["key"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[keyParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.PressKey(ctx, p.Key); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "key": p.Key}, nil
			},
		},
		{
			name:        "browser_scroll",
			description: "Scroll the active tab one viewport up or down.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"direction": {"type": "string", "enum": ["up", "down"]},
					"session_id": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[scrollParams](params)
				if err != nil {
					return nil, err
				}
				if p.Direction == "" {
					p.Direction = "down"
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.Scroll(ctx, p.Direction); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "direction": p.Direction}, nil
			},
		},
		{
			name:        "browser_go_back",
			description: "Navigate the active tab one history entry back.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"session_id": {"type": "string"}},
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[sessionParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.GoBack(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "went_back": true}, nil
			},
		},
		{
			name:        "browser_get_state",
			description: "Snapshot the active tab: URL, title, tabs, interactive elements, optional screenshot.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"include_screenshot": {"type": "boolean"},
					"session_id": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[stateParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				return h.State(ctx, p.IncludeScreenshot)
			},
		},
		{
			name:        "browser_list_tabs",
			description: "List the session's open tabs.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"session_id": {"type": "string"}},
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[sessionParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				tabs, err := h.Tabs(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "tabs": tabs}, nil
			},
		},
		{
			name:        "browser_switch_tab",
			description: "Make the tab at the given index the active one.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tab_index": {"type": "integer", "minimum": 0},
					"session_id": {"type": "string"}
				},
				"required": ["tab_index"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[tabParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.SwitchTab(ctx, p.TabIndex); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "active_tab": p.TabIndex}, nil
			},
		},
		{
			name:        "browser_close_tab",
			description: "Close the tab at the given index; later tabs shift down one position.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tab_index": {"type": "integer", "minimum": 0},
					"session_id": {"type": "string"}
				},
				"required": ["tab_index"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[tabParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				if err := h.CloseTab(ctx, p.TabIndex); err != nil {
					return nil, err
				}
				return map[string]any{"session_id": h.ID(), "closed_tab": p.TabIndex}, nil
			},
		},
		{
			name:        "browser_extract_content",
			description: "Answer a query about the current page's content using the LLM.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"extract_links": {"type": "boolean"},
					"session_id": {"type": "string"}
				},
				"required": ["query"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[extractParams](params)
				if err != nil {
					return nil, err
				}
				h, err := d.registry.Resolve(ctx, p.SessionID)
				if err != nil {
					return nil, err
				}
				content, err := h.Content(ctx)
				if err != nil {
					return nil, err
				}
				answer, err := d.extractor.Extract(ctx, content, p.Query)
				if err != nil {
					return nil, err
				}
				result := map[string]any{
					"session_id": h.ID(),
					"url":        content.URL,
					"content":    answer,
				}
				if p.ExtractLinks {
					result["links"] = content.Links
				}
				return result, nil
			},
		},
		{
			name:        "run_agent_task",
			description: "Run a natural-language task against a session asynchronously; poll with get_agent_task.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task": {"type": "string", "minLength": 1},
					"session_id": {"type": "string"},
					"max_steps": {"type": "integer", "minimum": 1},
					"model": {"type": "string"}
				},
				"required": ["task"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[runTaskParams](params)
				if err != nil {
					return nil, err
				}
				return d.tasks.Submit(ctx, p.SessionID, domain.TaskSpec{
					Description: p.Task,
					MaxSteps:    p.MaxSteps,
					Model:       p.Model,
				})
			},
		},
		{
			name:        "get_agent_task",
			description: "Get the status record of an agent task.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"task_id": {"type": "string", "minLength": 1}},
				"required": ["task_id"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[getTaskParams](params)
				if err != nil {
					return nil, err
				}
				return d.tasks.Get(p.TaskID)
			},
		},
		{
			name:        "retry_agent_task",
			description: "Run a task on a dedicated throwaway session that is closed when the task finishes.",
			rawSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task": {"type": "string", "minLength": 1},
					"max_steps": {"type": "integer", "minimum": 1},
					"model": {"type": "string"},
					"headless": {"type": "boolean"},
					"allowed_domains": {"type": "array", "items": {"type": "string"}},
					"wait_between_actions": {"type": "number", "minimum": 0}
				},
				"required": ["task"],
				"additionalProperties": false
			}`),
			handler: func(ctx context.Context, params json.RawMessage) (any, error) {
				p, err := decode[retryTaskParams](params)
				if err != nil {
					return nil, err
				}
				cfg := d.sessionOverrides(p.Headless, p.AllowedDomains, p.WaitBetweenActions)
				return d.tasks.SubmitEphemeral(ctx, domain.TaskSpec{
					Description: p.Task,
					MaxSteps:    p.MaxSteps,
					Model:       p.Model,
				}, cfg)
			},
		},
	}
}
