package llm

import (
	"context"
	"fmt"
)

// Unavailable returns a Client whose calls always fail with reason. Used
// when no API key is configured so the rest of the wiring stays uniform;
// browser operations keep working and only LLM-backed ones report the
// missing credential.
func Unavailable(reason string) Client {
	return unavailableClient{reason: reason}
}

type unavailableClient struct {
	reason string
}

func (c unavailableClient) Name() string { return "unavailable" }

func (c unavailableClient) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("llm unavailable: %s", c.reason)
}
