package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/calebodell/ember/internal/inference"
)

// ChatCompletionRequest is the OpenAI-compatible request body. Pointer
// fields distinguish "absent" from zero so engine defaults apply.
type ChatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	TopK             *int          `json:"top_k,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Stream           *bool         `json:"stream,omitempty"`
	Stop             any           `json:"stop,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	RepeatPenalty    *float64      `json:"repeat_penalty,omitempty"`
	Seed             *int64        `json:"seed,omitempty"`
	User             string        `json:"user,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streaming SSE event.
type ChatCompletionChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
	}

	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required and must not be empty")
	}

	msgs := make([]inference.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, inference.Message{Role: m.Role, Content: m.Content})
	}

	cfg, err := buildGenerationConfig(&req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	completionID := "chatcmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := req.Model
	if model == "" {
		model = s.model
	}

	if req.Stream != nil && *req.Stream {
		return s.streamChatCompletion(c, msgs, cfg, completionID, created, model)
	}
	return s.syncChatCompletion(c, msgs, cfg, completionID, created, model)
}

func (s *Server) syncChatCompletion(c *echo.Context, msgs []inference.Message, cfg inference.GenerationConfig, completionID string, created int64, model string) error {
	s.engineMu.Lock()
	text, err := s.engine.GenerateStream(c.Request().Context(), msgs, nil, cfg)
	stats := s.engine.Stats()
	s.engineMu.Unlock()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, inference.ErrContextOverflow) {
			status = http.StatusBadRequest
		}
		return writeError(c, status, "server_error", err.Error())
	}

	finishReason := "stop"
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      &ChatMessage{Role: "assistant", Content: text},
				FinishReason: &finishReason,
			},
		},
		Usage: ChatUsage{
			PromptTokens:     stats.PromptTokens,
			CompletionTokens: stats.TokensGenerated,
			TotalTokens:      stats.PromptTokens + stats.TokensGenerated,
		},
	})
}

func (s *Server) streamChatCompletion(c *echo.Context, msgs []inference.Message, cfg inference.GenerationConfig, completionID string, created int64, model string) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	chunk := func(delta *ChatMessage, finish *string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	if err := sendSSEChunk(res, chunk(&ChatMessage{Role: "assistant"}, nil)); err != nil {
		return err
	}
	flusher.Flush()

	s.engineMu.Lock()
	_, err := s.engine.GenerateStream(c.Request().Context(), msgs,
		func(piece string, isEnd bool) {
			if isEnd {
				return
			}
			if err := sendSSEChunk(res, chunk(&ChatMessage{Content: piece}, nil)); err != nil {
				s.log.Warn("sse write failed", "error", err)
				return
			}
			flusher.Flush()
		}, cfg)
	s.engineMu.Unlock()
	if err != nil {
		s.log.Error("streamed generation failed", "error", err)
		return sendSSEDone(res)
	}

	finishReason := "stop"
	if err := sendSSEChunk(res, chunk(nil, &finishReason)); err != nil {
		return err
	}
	flusher.Flush()
	return sendSSEDone(res)
}

// buildGenerationConfig folds request overrides onto engine defaults.
func buildGenerationConfig(req *ChatCompletionRequest) (inference.GenerationConfig, error) {
	cfg := inference.DefaultGenerationConfig()
	if req.Temperature != nil {
		cfg.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		cfg.TopP = float32(*req.TopP)
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		cfg.MaxTokens = *req.MaxTokens
	}
	if req.PresencePenalty != nil {
		cfg.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.RepeatPenalty != nil {
		cfg.RepeatPenalty = float32(*req.RepeatPenalty)
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	stops, err := coerceStops(req.Stop)
	if err != nil {
		return cfg, err
	}
	if stops != nil {
		cfg.StopSequences = stops
	}
	return cfg, nil
}

func coerceStops(stop any) ([]string, error) {
	switch v := stop.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("stop must be a string or array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("stop must be a string or array of strings")
	}
}
