package task

import (
	"context"
	"strings"

	"github.com/taskmill/taskmill/internal/gitops"
)

// Namer generates a branch name and a title for a task. Implementations may
// be slow (an LLM call); the processor waits for them only up to a bound and
// continues without a name when they are late.
type Namer interface {
	Name(ctx context.Context, prompt string) (branch, title string, err error)
}

// PromptNamer derives names directly from the prompt text.
type PromptNamer struct{}

// Name builds a short title from the prompt's leading words and a branch
// name from the title.
func (PromptNamer) Name(_ context.Context, prompt string) (string, string, error) {
	words := strings.Fields(prompt)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 60 {
		title = title[:60]
	}

	slug := gitops.SanitizeBranchName(title)
	if slug == "" {
		return "", title, nil
	}
	return "taskmill/" + slug, title, nil
}
