// Package extract answers queries about page content with an LLM.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/llm"
	"github.com/browserdeck/browserdeck/internal/logging"
)

// maxPageChars bounds how much page text goes into the prompt.
const maxPageChars = 40000

const extractSystemPrompt = `You extract information from web pages. You receive the text content of one page and a query describing what to extract. Answer the query using only the page content. Be concise and factual. If the page does not contain the requested information, say so plainly.`

// Extractor runs extraction queries against page content.
type Extractor struct {
	client llm.Client
	model  string
	log    *logging.Logger
}

// New creates an extractor. model may be empty to use the client default.
func New(client llm.Client, model string, log *logging.Logger) *Extractor {
	return &Extractor{
		client: client,
		model:  model,
		log:    log.Sub("extract"),
	}
}

// Extract answers query from content. The page text is truncated to a
// fixed budget before prompting.
func (e *Extractor) Extract(ctx context.Context, content *domain.PageContent, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("%w: query is required", domain.ErrInvalidParameters)
	}

	text := content.Text
	truncated := false
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Page URL: %s\n", content.URL)
	if content.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", content.Title)
	}
	fmt.Fprintf(&b, "\nPage content:\n%s\n", text)
	if truncated {
		b.WriteString("\n[content truncated]\n")
	}
	fmt.Fprintf(&b, "\nQuery: %s", query)

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Model:    e.model,
		System:   extractSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	e.log.Debug().Str("url", content.URL).Int("page_chars", len(text)).Msg("extraction completed")
	return resp.Content, nil
}
