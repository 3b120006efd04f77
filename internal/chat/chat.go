// Package chat talks to the service that writes the bot's replies.
package chat

import (
	"context"
	"errors"

	"chatrelay/internal/history"
)

var ErrEmptyResponse = errors.New("empty response")

// Request is everything the backend needs to answer one message.
type Request struct {
	Prompt       string         `json:"prompt"`
	AgentName    string         `json:"agentName"`
	Message      string         `json:"message"`
	Conversation []history.Turn `json:"conversation"`
}

// Backend produces replies and hears about paused conversations.
type Backend interface {
	Respond(ctx context.Context, req Request) (string, error)
	Pause(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string) error
}
