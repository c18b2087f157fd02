package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"atelier/internal/config"
	"atelier/internal/logging"
	"atelier/internal/services"
)

const contentPolicyCode = "content_policy_violation"

// OpenAI renders images through the OpenAI images API. Prompt-only requests
// go to the generations endpoint. Remixes send the source image to the edits
// endpoint; a fresh submission with references sends the first reference
// there instead, since the API takes a single input image.
type OpenAI struct {
	client *openai.Client
	model  string
	size   string
	logger *slog.Logger
}

// NewOpenAI configures a client against the configured base URL.
func NewOpenAI(cfg config.Provider, timeout time.Duration, logger *slog.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		size:   strings.TrimSpace(cfg.Size),
		logger: logging.NewComponentLogger(logger, "provider-openai"),
	}
}

func (p *OpenAI) Name() string { return config.ProviderOpenAI }

func (p *OpenAI) Generate(ctx context.Context, req Request) (Result, error) {
	prompt := RenderPrompt(req.PromptJSON, req.EditInstructions)
	if prompt == "" {
		return Result{}, services.Wrap(services.ErrValidation, "provider", "openai generate", "prompt is empty", nil)
	}

	var (
		resp openai.ImageResponse
		err  error
	)
	if input := editInput(req); input != nil {
		if len(req.References) > 0 && req.Source != nil {
			p.logger.Debug("openai edits take one image; sending the remix source only",
				logging.String(logging.FieldQueueItemID, req.QueueItemID),
				logging.Int("references", len(req.References)),
			)
		}
		resp, err = p.client.CreateEditImage(ctx, openai.ImageEditRequest{
			Image:          openai.WrapReader(bytes.NewReader(input.Data), imageFilename(input), input.MIME),
			Prompt:         prompt,
			Model:          p.model,
			N:              1,
			Size:           p.size,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
			User:           req.QueueItemID,
		})
	} else {
		resp, err = p.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          p.model,
			N:              1,
			Size:           p.size,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
			User:           req.QueueItemID,
		})
	}
	if err != nil {
		return Result{}, classifyOpenAIError(ctx, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Result{}, services.Wrap(services.ErrInvalidImage, "provider", "openai generate", "response contained no image", nil)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Result{}, services.Wrap(services.ErrInvalidImage, "provider", "openai generate", "decode image", err)
	}
	return Result{Data: data, MIME: "image/png", Model: p.model, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

// editInput picks the image an edit request starts from: the remix source,
// else the first reference. nil means a plain generation.
func editInput(req Request) *Image {
	if req.Source != nil && len(req.Source.Data) > 0 {
		return req.Source
	}
	for i := range req.References {
		if len(req.References[i].Data) > 0 {
			return &req.References[i]
		}
	}
	return nil
}

func imageFilename(img *Image) string {
	ext := ".png"
	switch img.MIME {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	name := filepath.Base(strings.TrimSpace(img.Name))
	if name == "" || name == "." || name == "/" {
		return "image" + ext
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	return name
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "provider", "openai generate", "request timed out", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if fmt.Sprint(apiErr.Code) == contentPolicyCode || strings.Contains(strings.ToLower(apiErr.Message), "safety system") {
			return services.Wrap(services.ErrSafety, "provider", "openai generate", apiErr.Message, nil)
		}
		return services.Wrap(services.ErrProvider, "provider", "openai generate",
			fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message), nil)
	}
	return services.Wrap(services.ErrProvider, "provider", "openai generate", "request failed", err)
}
