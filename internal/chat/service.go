package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrelay/internal/history"
)

const DefaultURL = "http://127.0.0.1:5000"

// Service is the HTTP chat backend: POST /chat for replies and
// POST /pause, /resume for state notifications.
type Service struct {
	base   string
	client *http.Client
}

func NewService(base string, client *http.Client) *Service {
	if base == "" {
		base = DefaultURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{base: strings.TrimRight(base, "/"), client: client}
}

func (s *Service) Respond(ctx context.Context, req Request) (string, error) {
	if req.Conversation == nil {
		req.Conversation = []history.Turn{}
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := s.post(ctx, "/chat", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

func (s *Service) Pause(ctx context.Context, chatID string) error {
	return s.post(ctx, "/pause", chatRef{ChatID: chatID}, nil)
}

func (s *Service) Resume(ctx context.Context, chatID string) error {
	return s.post(ctx, "/resume", chatRef{ChatID: chatID}, nil)
}

type chatRef struct {
	ChatID string `json:"chatId"`
}

func (s *Service) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat service %s status %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
