package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"atelier/internal/config"
	"atelier/internal/services"
)

// Image is reference or source image data sent to the provider.
type Image struct {
	Name string
	MIME string
	Data []byte
}

// Request is everything the provider needs to render one queue item.
type Request struct {
	// QueueItemID doubles as an idempotency key for providers that support one.
	QueueItemID      string
	PromptJSON       string
	EditInstructions string
	References       []Image
	// Source is the image being remixed, if any.
	Source         *Image
	GoogleSearch   bool
	SafetyOverride bool
}

// Result is the raw image returned by the provider. MIME is a hint only;
// callers sniff Data before trusting it.
type Result struct {
	Data          []byte
	MIME          string
	Model         string
	RevisedPrompt string
}

// Provider turns a prompt and optional reference images into image bytes.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// New builds the provider selected by provider.kind.
func New(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider: config is nil")
	}
	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	switch cfg.Provider.Kind {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.Provider, timeout, logger), nil
	case config.ProviderHTTP:
		return NewHTTP(cfg.Provider, timeout, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "provider", "new",
			fmt.Sprintf("unsupported provider kind %q", cfg.Provider.Kind), nil)
	}
}

// RenderPrompt flattens the opaque prompt document into text for providers
// that only accept a string. A top-level "prompt" or "text" string wins;
// otherwise the compact JSON itself is used. Edit instructions are appended.
func RenderPrompt(promptJSON, editInstructions string) string {
	text := strings.TrimSpace(promptJSON)
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		for _, key := range []string{"prompt", "text"} {
			if value, ok := doc[key].(string); ok && strings.TrimSpace(value) != "" {
				text = strings.TrimSpace(value)
				break
			}
		}
	}
	if edit := strings.TrimSpace(editInstructions); edit != "" {
		text += "\n\nEdit instructions: " + edit
	}
	return text
}
