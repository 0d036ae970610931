package anthropic

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/louroai/louro/apperr"
)

// Validate sends a one-token request for model. A rejected key is an
// *apperr.AuthenticationError; an unknown model or an outage is returned wrapped.
func (c *Client) Validate(ctx context.Context, model string) error {
	_, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(model)),
		MaxTokens: anthropic.F(int64(1)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		}),
	})
	if err == nil {
		return nil
	}
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apperr.AuthenticationError{Err: fmt.Errorf("anthropic API key rejected: %w", err)}
	default:
		return fmt.Errorf("failed to validate model %s: %w", model, err)
	}
}

// KeyHint returns the last 4 characters of an API key for logs.
func KeyHint(apiKey string) string {
	if len(apiKey) < 4 {
		return "****"
	}
	return apiKey[len(apiKey)-4:]
}
