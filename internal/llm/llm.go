// Package llm exposes a provider-neutral text completion used for quote
// structuring and narrative summaries.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/pkg/anthropic"
)

// Request is one completion call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
	// JSON asks the provider for a single JSON object when it supports it.
	JSON bool
	// Phase labels cost logs ("extract", "narrative").
	Phase string
}

// Completer returns the model's text answer.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the completer selected by llm.provider.
func New(cfg *config.Config) (Completer, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic.key is required")
		}
		return NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.LLM.MaxTokens), nil
	case "openai":
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("llm: openai.key is required")
		}
		oc := openai.DefaultConfig(cfg.OpenAI.Key)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		return NewOpenAI(openai.NewClientWithConfig(oc), cfg.OpenAI.Model, int(cfg.LLM.MaxTokens)), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}
}

// Anthropic completes through the Anthropic messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic wraps an Anthropic client.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens}
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	mr := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.System != "" {
		mr.System = anthropic.CachedSystem(req.System)
	}

	resp, err := a.client.CreateMessage(ctx, mr)
	if err != nil {
		return "", eris.Wrap(err, "llm: anthropic completion")
	}
	resp.Usage.LogCost(a.model, req.Phase)
	return resp.Text(), nil
}

// OpenAI completes through the chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI wraps a go-openai client.
func NewOpenAI(client *openai.Client, model string, maxTokens int) *OpenAI {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := o.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int(req.MaxTokens)
	}

	cr := openai.ChatCompletionRequest{Model: o.model}
	if req.System != "" {
		cr.Messages = append(cr.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	cr.Messages = append(cr.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	if req.JSON {
		cr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	// Reasoning models reject max_tokens.
	if isReasoningModel(o.model) {
		cr.MaxCompletionTokens = maxTokens
	} else {
		cr.MaxTokens = maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, cr)
	if err != nil {
		return "", eris.Wrap(err, "llm: openai completion")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("llm: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
