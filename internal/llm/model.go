// Package llm provides chat model clients used by structured generation.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks a model call that failed in transport rather than in content.
var ErrUnavailable = errors.New("language model unavailable")

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// ChatModel turns a conversation into a single text reply.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
