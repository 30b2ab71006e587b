// ABOUTME: Gemini generator using the google generative-ai-go client
// ABOUTME: Maps history to chat turns and collects text parts from the first candidate

package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/2389/support-gateway/internal/store"
)

const defaultGeminiModel = "gemini-1.5-flash-latest"

// Gemini generates replies with Google's Gemini models.
type Gemini struct {
	client       *genai.Client
	model        string
	instructions string
	temperature  float32
	maxTokens    int32
}

// NewGemini creates a Gemini client. Call Close when done.
func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		client:       client,
		model:        model,
		instructions: opts.SystemPrompt,
		temperature:  float32(opts.temperature()),
		maxTokens:    int32(opts.MaxTokens),
	}, nil
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// GenerateReply runs one chat turn against the model.
func (g *Gemini) GenerateReply(ctx context.Context, req *Request) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt(g.instructions, req.Knowledge))},
	}
	model.SetTemperature(g.temperature)
	if g.maxTokens > 0 {
		model.SetMaxOutputTokens(g.maxTokens)
	}

	chat := model.StartChat()
	chat.History = geminiHistory(Turns(req.History, req.Message))

	resp, err := chat.SendMessage(ctx, genai.Text(strings.TrimSpace(req.Message)))
	if err != nil {
		return "", err
	}
	return geminiText(resp)
}

func geminiHistory(turns []Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyReply
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
