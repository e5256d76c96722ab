package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/metrics"
)

// OpenAIProvider talks to any OpenAI compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAIProvider(client *openai.Client, model string) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: model}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error) {
	if p.client == nil {
		return "", errors.New("openai: client is nil")
	}
	model := strings.TrimSpace(p.model)
	if model == "" {
		return "", errors.New("openai: model is required")
	}

	o := applyOptions(opts)
	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: o.MaxTokens,
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
		// a zero temperature is dropped by omitempty
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	metrics.RecordAICall("chat", model, err, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.ImageURL == "" {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role: m.Role,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL},
				},
			},
		})
	}
	return out
}

// OpenAITranscriber uses the audio transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(client *openai.Client, model string) *OpenAITranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: client, model: model}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if t.client == nil {
		return "", errors.New("openai: client is nil")
	}
	if filename == "" {
		// the endpoint picks the decoder from the extension
		filename = "audio.webm"
	}

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   audio,
	})
	metrics.RecordAICall("transcription", t.model, err, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return resp.Text, nil
}
