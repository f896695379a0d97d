// Package services holds thin clients over third-party APIs that are
// not generation vendors.
package services

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const polishSystemPrompt = `You rewrite short user prompts for an image-to-video model.
Keep the user's intent and subject. Add concrete camera motion and mood when missing.
Return only the rewritten prompt, one paragraph, under 80 words.`

// PromptService polishes raw user prompts before they reach the video
// vendor. It is optional: the tracker submits the raw prompt when no
// OpenAI key is configured or when polishing fails.
type PromptService struct {
	client *openai.Client
	model  string
}

func NewPromptService(apiKey string) *PromptService {
	return &PromptService{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

// Polish rewrites the prompt for better motion output.
func (s *PromptService) Polish(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: polishSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to polish prompt: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	polished := strings.TrimSpace(resp.Choices[0].Message.Content)
	if polished == "" {
		return "", fmt.Errorf("empty polished prompt")
	}

	return polished, nil
}
