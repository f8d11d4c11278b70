package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ui-annotator/backend/internal/annotations"
	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/models"
	"github.com/ui-annotator/backend/internal/relayerr"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) Model {
	t.Helper()
	return newTestModelWith(t, 0, zap.NewNop(), handler)
}

func newTestModelWith(t *testing.T, maxTokens int, logger *zap.Logger, handler http.HandlerFunc) Model {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		OpenAIAPIKey:   "sk-test",
		OpenAIModel:    "gpt-4.1",
		OpenAIBaseURL:  server.URL + "/v1",
		VisionMode:     config.VisionModeLive,
		ModelTimeout:   5 * time.Second,
		ModelMaxTokens: maxTokens,
	}
	return New(cfg, logger)
}

func chatCompletion(content string) string {
	return chatCompletionWithReason(content, "stop")
}

func chatCompletionWithReason(content, finishReason string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4.1",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func TestLive_SendsImageAndReturnsText(t *testing.T) {
	var received map[string]interface{}

	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion(`{"annotations":[]}`)))
	})

	text, err := model.Annotate(context.Background(), "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, `{"annotations":[]}`, text)
	assert.Equal(t, "gpt-4.1", model.Name())

	assert.Equal(t, "gpt-4.1", received["model"])
	messages, ok := received["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)

	user := messages[1].(map[string]interface{})
	parts := user["content"].([]interface{})
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, "data:image/png;base64,AAAA", image["image_url"].(map[string]interface{})["url"])
	assert.Equal(t, "high", image["image_url"].(map[string]interface{})["detail"])
}

func TestLive_NoCompletionLimitByDefault(t *testing.T) {
	var received map[string]interface{}
	entry := `{"x":10,"y":20,"width":120,"height":40,"tag":"Button"}`
	long := `{"annotations":[` + strings.TrimSuffix(strings.Repeat(entry+",", 80), ",") + `]}`

	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion(long)))
	})

	text, err := model.Annotate(context.Background(), "data:image/png;base64,AAAA")
	require.NoError(t, err)

	_, hasLimit := received["max_tokens"]
	assert.False(t, hasLimit)
	assert.Len(t, annotations.Sanitize(text).Annotations, 80)
}

func TestLive_ConfiguredLimitAndTruncationWarning(t *testing.T) {
	var received map[string]interface{}
	core, logs := observer.New(zap.WarnLevel)

	model := newTestModelWith(t, 4096, zap.New(core), func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionWithReason(`{"annotations":[{"x":1,"y":2,"wid`, "length")))
	})

	text, err := model.Annotate(context.Background(), "data:image/png;base64,AAAA")
	require.NoError(t, err)

	assert.Equal(t, float64(4096), received["max_tokens"])
	assert.Equal(t, 1, logs.FilterMessage("Vision model answer was truncated at the token limit").Len())

	_, report := annotations.Parse(text)
	assert.False(t, report.Parsed)
}

func TestLive_ProviderErrorIsModelCallFailed(t *testing.T) {
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	})

	_, err := model.Annotate(context.Background(), "https://example.com/a.png")
	require.Error(t, err)
	assert.Equal(t, relayerr.ModelCallFailed, relayerr.KindOf(err))
}

func TestLive_NoChoicesIsEmptyText(t *testing.T) {
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	text, err := model.Annotate(context.Background(), "https://example.com/a.png")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestNew_SelectsMock(t *testing.T) {
	model := New(&config.Config{VisionMode: config.VisionModeMock}, zap.NewNop())

	_, isMock := model.(*Mock)
	assert.True(t, isMock)
	assert.Equal(t, "mock", model.Name())
}

func TestMock_OutputPassesValidation(t *testing.T) {
	text, err := NewMock().Annotate(context.Background(), "ignored")
	require.NoError(t, err)

	result := annotations.Sanitize(text)

	assert.Equal(t, []models.Annotation{
		{X: 100, Y: 100, Width: 120, Height: 40, Tag: models.TagButton},
		{X: 250, Y: 200, Width: 180, Height: 50, Tag: models.TagInput},
	}, result.Annotations)
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMock().Annotate(ctx, "ignored")
	assert.Equal(t, relayerr.ModelCallFailed, relayerr.KindOf(err))
}
