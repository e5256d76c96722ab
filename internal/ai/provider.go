package ai

import (
	"context"
	"io"
)

// Message is one entry of a chat completion history. ImageURL, when set, is
// sent as an image part next to the text.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error)
}

// Transcriber turns an audio recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type ChatOptions struct {
	MaxTokens   int
	Temperature *float32
}

type ChatOption func(*ChatOptions)

func WithMaxTokens(n int) ChatOption {
	return func(o *ChatOptions) { o.MaxTokens = n }
}

func WithTemperature(t float32) ChatOption {
	return func(o *ChatOptions) { o.Temperature = &t }
}

func applyOptions(opts []ChatOption) ChatOptions {
	var o ChatOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
