package ai

import (
	"Go2NetSentry/internal/config"
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// FindingsAnalyzer implements the Analyzer interface using OpenAI's API
type FindingsAnalyzer struct {
	cfg    *config.AIConfig
	client *openai.Client
}

// NewFindingsAnalyzer creates a new instance of FindingsAnalyzer.
func NewFindingsAnalyzer(cfg *config.AIConfig) (*FindingsAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is not configured")
	}

	// Create a default OpenAI configuration
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// If a custom BaseURL is defined, override the default one
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	// Create the client using the final configuration
	client := openai.NewClientWithConfig(clientConfig)

	return &FindingsAnalyzer{
		cfg:    cfg,
		client: client,
	}, nil
}

// AnalyzeFindings analyzes the input text and returns a summary or insights.
func (a *FindingsAnalyzer) AnalyzeFindings(ctx context.Context, input string) (string, error) {
	// Craft the prompt for the AI model
	prompt := fmt.Sprintf(
		"You are a senior network security analyst. "+
			"Please analyze the following scan findings from the Go2NetSentry monitoring system. "+
			"Provide a concise analysis of the exposed services and anomalies, their severity, "+
			"and recommended next steps for investigation. "+
			"The output should be clear and actionable.\n\n"+
			"--- Findings ---\n%s\n--- End of Findings ---", input,
	)

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timeout: %w", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("AI request canceled by client: %w", err)
		}
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
