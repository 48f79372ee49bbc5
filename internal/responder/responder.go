// Package responder generates conversational replies for active leads. It
// wraps an LLM agent behind a narrow interface so the intake flow and tests
// never touch the model directly.
package responder

import (
	"context"

	"leadflow_backend/internal/leads/domain"
)

// Attachment is a media item the channel adapter should deliver alongside the
// reply text.
type Attachment struct {
	URL     string
	Caption string
}

// Reply is the structured outcome of one responder turn. Control markers
// emitted by the model are already stripped from Text and resolved into
// Attachments.
type Reply struct {
	Text        string
	Attachments []Attachment
}

// Responder produces a reply for the latest customer turn.
type Responder interface {
	Reply(ctx context.Context, lead *domain.Lead, history []domain.Message) (*Reply, error)
}
