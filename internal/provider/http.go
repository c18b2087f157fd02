package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"atelier/internal/config"
	"atelier/internal/logging"
	"atelier/internal/services"
)

const maxResponseBytes = 32 << 20

// HTTP calls a self-hosted image service with a JSON POST to <base_url>/generate.
// The service answers either with raw image bytes or with a JSON envelope.
type HTTP struct {
	baseURL string
	apiKey  string
	model   string
	size    string
	client  *http.Client
	logger  *slog.Logger
}

type httpImage struct {
	Name string `json:"name,omitempty"`
	MIME string `json:"mime_type,omitempty"`
	Data string `json:"data"`
}

type httpRequest struct {
	QueueItemID      string          `json:"queue_item_id"`
	Prompt           json.RawMessage `json:"prompt"`
	EditInstructions string          `json:"edit_instructions,omitempty"`
	References       []httpImage     `json:"references,omitempty"`
	Source           *httpImage      `json:"source,omitempty"`
	GoogleSearch     bool            `json:"google_search,omitempty"`
	SafetyOverride   bool            `json:"safety_override,omitempty"`
	Model            string          `json:"model,omitempty"`
	Size             string          `json:"size,omitempty"`
}

type httpResponse struct {
	ImageBase64   string `json:"image_base64"`
	MIME          string `json:"mime_type"`
	Error         string `json:"error"`
	Blocked       bool   `json:"blocked"`
	RevisedPrompt string `json:"revised_prompt"`
}

// NewHTTP configures the generic provider.
func NewHTTP(cfg config.Provider, timeout time.Duration, logger *slog.Logger) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		size:    strings.TrimSpace(cfg.Size),
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "provider-http"),
	}
}

func (p *HTTP) Name() string { return config.ProviderHTTP }

func (p *HTTP) Generate(ctx context.Context, req Request) (Result, error) {
	payload := httpRequest{
		QueueItemID:      req.QueueItemID,
		Prompt:           json.RawMessage(req.PromptJSON),
		EditInstructions: req.EditInstructions,
		GoogleSearch:     req.GoogleSearch,
		SafetyOverride:   req.SafetyOverride,
		Model:            p.model,
		Size:             p.size,
	}
	if !json.Valid(payload.Prompt) {
		return Result{}, services.Wrap(services.ErrValidation, "provider", "http generate", "prompt is not valid JSON", nil)
	}
	for _, ref := range req.References {
		payload.References = append(payload.References, encodeImage(ref))
	}
	if req.Source != nil {
		src := encodeImage(*req.Source)
		payload.Source = &src
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal provider request: %w", err)
	}

	endpoint := p.baseURL + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "provider", "http generate", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*, application/json")
	if req.QueueItemID != "" {
		httpReq.Header.Set("Idempotency-Key", req.QueueItemID)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	p.logger.Debug("sending provider request",
		logging.String("url", endpoint),
		logging.String(logging.FieldQueueItemID, req.QueueItemID),
		logging.Int("references", len(payload.References)),
	)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.ErrTimeout, "provider", "http generate", "request timed out", err)
		}
		return Result{}, services.Wrap(services.ErrProvider, "provider", "http generate", "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "provider", "http generate", "read response", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return p.decodeEnvelope(resp.StatusCode, data)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, services.Wrap(services.ErrProvider, "provider", "http generate",
			fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(data)), nil)
	}
	return Result{Data: data, MIME: mediaType, Model: p.model}, nil
}

func (p *HTTP) decodeEnvelope(status int, data []byte) (Result, error) {
	var envelope httpResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Result{}, services.Wrap(services.ErrProvider, "provider", "http generate",
			fmt.Sprintf("status %d: undecodable response", status), err)
	}
	if envelope.Blocked {
		msg := envelope.Error
		if msg == "" {
			msg = "request blocked by provider safety filter"
		}
		return Result{}, services.Wrap(services.ErrSafety, "provider", "http generate", msg, nil)
	}
	if status != http.StatusOK || envelope.Error != "" {
		msg := envelope.Error
		if msg == "" {
			msg = snippet(data)
		}
		return Result{}, services.Wrap(services.ErrProvider, "provider", "http generate",
			fmt.Sprintf("status %d: %s", status, msg), nil)
	}
	image, err := base64.StdEncoding.DecodeString(envelope.ImageBase64)
	if err != nil {
		return Result{}, services.Wrap(services.ErrInvalidImage, "provider", "http generate", "decode image_base64", err)
	}
	return Result{Data: image, MIME: envelope.MIME, Model: p.model, RevisedPrompt: envelope.RevisedPrompt}, nil
}

func encodeImage(img Image) httpImage {
	return httpImage{Name: img.Name, MIME: img.MIME, Data: base64.StdEncoding.EncodeToString(img.Data)}
}

func snippet(data []byte) string {
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200] + "…"
	}
	if text == "" {
		return "empty response"
	}
	return text
}
