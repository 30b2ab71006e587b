// ABOUTME: langchaingo-backed generator for OpenAI-compatible and Ollama models
// ABOUTME: Sends system prompt, prior turns and the new message as chat content

package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/2389/support-gateway/internal/store"
)

// LLM generates replies through any langchaingo model.
type LLM struct {
	model        llms.Model
	instructions string
	callOpts     []llms.CallOption
}

// NewLLM wraps an existing langchaingo model.
func NewLLM(model llms.Model, opts Options) *LLM {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.temperature())}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	return &LLM{
		model:        model,
		instructions: opts.SystemPrompt,
		callOpts:     callOpts,
	}
}

// NewOpenAI builds a generator for the OpenAI API or a compatible endpoint.
func NewOpenAI(opts Options) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	clientOpts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return NewLLM(llm, opts), nil
}

// NewOllama builds a generator for a local Ollama server.
func NewOllama(opts Options) (*LLM, error) {
	model := opts.Model
	if model == "" {
		model = "llama3"
	}
	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(opts.BaseURL))
	}
	llm, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return NewLLM(llm, opts), nil
}

// GenerateReply sends the conversation to the model and returns its text.
func (g *LLM) GenerateReply(ctx context.Context, req *Request) (string, error) {
	resp, err := g.model.GenerateContent(ctx, g.messages(req), g.callOpts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (g *LLM) messages(req *Request) []llms.MessageContent {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt(g.instructions, req.Knowledge)),
	}
	for _, t := range Turns(req.History, req.Message) {
		role := llms.ChatMessageTypeHuman
		if t.Role == store.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Content))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, strings.TrimSpace(req.Message)))
}
