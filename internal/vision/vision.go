// Package vision calls the hosted vision-language model that locates UI
// components in an image. It returns the model's raw text; the caller is
// responsible for validating it.
package vision

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/relayerr"
)

const systemPrompt = `You are a UI annotation assistant. Given an image of a UI, return a JSON object of bounding boxes and tags for each UI component. Use this schema:
{
  "annotations": [
    { "x": <number>, "y": <number>, "width": <number>, "height": <number>, "tag": "Button|Input|Radio|Dropdown" }
  ]
}
Only return valid JSON.`

const userPrompt = "Analyze this UI image and return bounding boxes for UI components."

// mockOutput is what the mock strategy answers for every image.
const mockOutput = `{"annotations":[` +
	`{"x":100,"y":100,"width":120,"height":40,"tag":"Button"},` +
	`{"x":250,"y":200,"width":180,"height":50,"tag":"Input"}]}`

// Model sends one image reference (data-URL or http(s) URL) to a vision model
// and returns its text answer. The answer may be empty or invalid JSON even
// when err is nil.
type Model interface {
	Annotate(ctx context.Context, imageRef string) (string, error)

	// Name identifies the strategy for logs and metrics.
	Name() string
}

// New selects the model strategy once, from configuration.
func New(cfg *config.Config, logger *zap.Logger) Model {
	if cfg.IsMockVision() {
		logger.Warn("Vision model running in mock mode", zap.Bool("api_key_set", cfg.OpenAIAPIKey != ""))
		return NewMock()
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.ModelTimeout}

	logger.Info("Vision model configured", zap.String("model", cfg.OpenAIModel))
	return NewLive(openai.NewClientWithConfig(clientConfig), cfg.OpenAIModel, cfg.ModelMaxTokens, logger)
}

// Live calls an OpenAI-compatible chat-completions endpoint.
type Live struct {
	client    *openai.Client
	modelID   string
	maxTokens int
	logger    *zap.Logger
}

// NewLive creates a live model strategy targeting modelID. A maxTokens of 0
// sends no completion limit.
func NewLive(client *openai.Client, modelID string, maxTokens int, logger *zap.Logger) *Live {
	return &Live{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Name returns the targeted model identifier.
func (m *Live) Name() string {
	return m.modelID
}

// Annotate sends the prompt and image to the model.
func (m *Live) Annotate(ctx context.Context, imageRef string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.modelID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: userPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageRef,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens:   m.maxTokens,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", relayerr.Wrap(relayerr.ModelCallFailed, err, "vision model call failed")
	}

	if len(resp.Choices) == 0 {
		m.logger.Warn("Vision model returned no choices", zap.String("model", m.modelID))
		return "", nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		m.logger.Warn("Vision model answer was truncated at the token limit",
			zap.String("model", m.modelID),
			zap.Int("max_tokens", m.maxTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
	}

	m.logger.Debug("Vision model answered",
		zap.String("model", m.modelID),
		zap.String("finish_reason", string(choice.FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return choice.Message.Content, nil
}

// Mock answers with two fixed annotations without calling out.
type Mock struct{}

// NewMock creates the mock strategy.
func NewMock() *Mock {
	return &Mock{}
}

// Name returns "mock".
func (m *Mock) Name() string {
	return config.VisionModeMock
}

// Annotate returns the fixed answer. It honours context cancellation like the
// live strategy.
func (m *Mock) Annotate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", relayerr.Wrap(relayerr.ModelCallFailed, err, "vision model call cancelled")
	}
	return mockOutput, nil
}
