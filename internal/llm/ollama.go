package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaModel is a ChatModel backed by an Ollama server.
type OllamaModel struct {
	client  *api.Client
	model   string
	options map[string]any
	json    bool
	logger  *zap.Logger
}

// OllamaOption configures an OllamaModel.
type OllamaOption func(*OllamaModel)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OllamaOption {
	return func(m *OllamaModel) {
		m.logger = logger
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OllamaOption {
	return func(m *OllamaModel) {
		m.options["temperature"] = t
	}
}

// WithJSONFormat asks the server to constrain replies to JSON.
func WithJSONFormat() OllamaOption {
	return func(m *OllamaModel) {
		m.json = true
	}
}

// NewOllamaModel creates a chat client for model at baseURL. httpClient may be nil.
func NewOllamaModel(baseURL, model string, httpClient *http.Client, opts ...OllamaOption) (*OllamaModel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	m := &OllamaModel{
		client:  api.NewClient(u, httpClient),
		model:   model,
		options: map[string]any{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Chat sends the conversation without streaming and returns the assistant reply.
func (m *OllamaModel) Chat(ctx context.Context, messages []Message) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    m.model,
		Messages: make([]api.Message, 0, len(messages)),
		Stream:   &stream,
		Options:  m.options,
	}
	if m.json {
		req.Format = json.RawMessage(`"json"`)
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, api.Message{Role: msg.Role, Content: msg.Content})
	}

	var reply strings.Builder
	err := m.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	m.logger.Debug("chat completed", zap.String("model", m.model), zap.Int("reply_len", reply.Len()))
	return reply.String(), nil
}
