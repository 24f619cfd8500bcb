package agent

import (
	"fmt"
	"strings"

	"github.com/browserdeck/browserdeck/internal/domain"
)

const systemPrompt = `You are a browser automation agent. You control a web browser one action at a time to accomplish the user's task.

Each turn you receive the current page state: its URL, title, open tabs, and a numbered list of interactive elements. Reply with exactly one JSON object and nothing else:

{"action": "navigate", "url": "https://...", "new_tab": false}
{"action": "click", "index": 3}
{"action": "type", "index": 2, "text": "search query"}
{"action": "key", "key": "Enter"}
{"action": "scroll", "direction": "down"}
{"action": "back"}
{"action": "switch_tab", "index": 1}
{"action": "close_tab", "index": 1}
{"action": "done", "result": "what you found or accomplished"}
{"action": "fail", "reason": "why the task cannot be completed"}

Element and tab indices refer to the state shown in the current turn only; they change when the page changes. When the task is complete, reply with the done action and put the answer in result. If an action fails you will see the error and may try something else.`

// buildStepPrompt renders the current page state for one agent turn.
func buildStepPrompt(task string, step, maxSteps int, state *domain.PageState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", task)
	fmt.Fprintf(&b, "Step %d of %d.\n\n", step, maxSteps)
	fmt.Fprintf(&b, "Current page: %s", state.URL)
	if state.Title != "" {
		fmt.Fprintf(&b, " (%s)", state.Title)
	}
	b.WriteString("\n")

	if len(state.Tabs) > 1 {
		b.WriteString("\nOpen tabs:\n")
		for _, tab := range state.Tabs {
			fmt.Fprintf(&b, "  [%d] %s — %s\n", tab.Index, tab.Title, tab.URL)
		}
	}

	if len(state.Elements) == 0 {
		b.WriteString("\nNo interactive elements on this page.\n")
	} else {
		b.WriteString("\nInteractive elements:\n")
		for _, el := range state.Elements {
			fmt.Fprintf(&b, "  [%d] <%s>", el.Index, el.Tag)
			if el.Text != "" {
				fmt.Fprintf(&b, " %q", el.Text)
			}
			if el.Placeholder != "" {
				fmt.Fprintf(&b, " placeholder=%q", el.Placeholder)
			}
			if el.Href != "" {
				fmt.Fprintf(&b, " href=%q", el.Href)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nReply with your next action.")
	return b.String()
}
