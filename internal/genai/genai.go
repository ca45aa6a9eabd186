// Package genai labels utterances with a coarse sentiment using the OpenAI API.
//
// The dashboard uses the label as an upstream hint: it drives the sentiment fallback
// tier of mood detection and the multiplier of the simple score calculator. Callers
// that already carry a label never need this package.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/MoodPipe/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// ErrNoChoicesReturned is returned when the completion carries no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key not set")

const sentimentSystemPrompt = `You classify the sentiment of a single chat message written by a user.
Reply with exactly one lowercase word: positive, negative or neutral.`

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration for the labeler.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the labeler.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model. Empty keeps DefaultModel.
func WithModel(model string) Option {
	return func(o *Opts) {
		if model != "" {
			o.Model = model
		}
	}
}

// Client labels utterances via chat completions.
type Client struct {
	chat  chatService
	model string
}

// NewClient creates a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: string(DefaultModel)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: created", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// Complete returns the first choice for the given system and user prompts.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// LabelSentiment classifies utterance as positive, negative or neutral. Replies outside
// those three words yield models.SentimentNone with a nil error.
func (c *Client) LabelSentiment(ctx context.Context, utterance string) (models.Sentiment, error) {
	if strings.TrimSpace(utterance) == "" {
		return models.SentimentNone, nil
	}
	reply, err := c.Complete(ctx, sentimentSystemPrompt, utterance)
	if err != nil {
		slog.Warn("genai.LabelSentiment: completion failed", "error", err)
		return models.SentimentNone, err
	}
	label := models.ParseSentiment(strings.Trim(reply, " \t\r\n.!\"'"))
	if label == models.SentimentNone {
		slog.Debug("genai.LabelSentiment: unrecognised reply", "reply", reply)
	}
	return label, nil
}
