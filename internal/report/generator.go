// Package report implements the staged report generation pipeline:
// filter articles, derive keywords, cluster, extract events, generate
// sections, and merge. Pipeline state is persisted on the report row so
// progress survives restarts and completed sections are never redone.
package report

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// GeneratorConfig configures the LLM client.
type GeneratorConfig struct {
	APIKey    string `mapstructure:"api_key"    yaml:"api_key"`
	Model     string `mapstructure:"model"      yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DefaultGeneratorConfig returns the LLM defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Model:     string(anthropic.ModelClaudeSonnet4_20250514),
		MaxTokens: 4096,
	}
}

// Generator is the LLM boundary of the pipeline. Implementations must be
// safe for concurrent use.
type Generator interface {
	// Generate returns the full completion for a prompt.
	Generate(ctx context.Context, system, prompt string) (string, error)
	// Stream invokes onChunk for each text delta and returns the
	// accumulated completion.
	Stream(ctx context.Context, system, prompt string, onChunk func(chunk string) error) (string, error)
}

// AnthropicGenerator is the production Generator on the Anthropic API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator creates a generator from config.
func NewAnthropicGenerator(cfg GeneratorConfig) *AnthropicGenerator {
	defaults := DefaultGeneratorConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}

	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (g *AnthropicGenerator) params(system, prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// Generate returns the full completion for a prompt.
func (g *AnthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	message, err := g.client.Messages.New(ctx, g.params(system, prompt))
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var out string
	for _, block := range message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// Stream streams the completion, invoking onChunk per text delta.
func (g *AnthropicGenerator) Stream(ctx context.Context, system, prompt string, onChunk func(chunk string) error) (string, error) {
	stream := g.client.Messages.NewStreaming(ctx, g.params(system, prompt))

	var accumulated string
	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				accumulated += delta.Text
				if onChunk != nil {
					if err := onChunk(delta.Text); err != nil {
						return accumulated, err
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return accumulated, fmt.Errorf("anthropic stream: %w", err)
	}
	return accumulated, nil
}
