package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"golang.org/x/oauth2/clientcredentials"
)

// NewHTTPClient returns the transport for provider calls. When client
// credentials are configured, requests carry a bearer token fetched and
// refreshed from the token endpoint.
func NewHTTPClient(ctx context.Context, cfg *config.LLMConfig) *http.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if !cfg.OAuth.Enabled() {
		return &http.Client{Timeout: timeout}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = timeout
	return client
}
