package client

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps the OpenAI API client. It backs the lesson, tutor and
// evaluation chains and produces catalog embeddings.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
}

// NewOpenAIClient creates a new OpenAI client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          "gpt-5-nano",
		embeddingModel: string(openai.SmallEmbedding3),
	}
}

// WithModel sets the chat model to use.
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	c.model = model
	return c
}

// WithEmbeddingModel sets the embedding model to use.
func (c *OpenAIClient) WithEmbeddingModel(model string) *OpenAIClient {
	c.embeddingModel = model
	return c
}

// WithTemperature sets the sampling temperature. Zero leaves the field unset,
// which some models require.
func (c *OpenAIClient) WithTemperature(t float32) *OpenAIClient {
	c.temperature = t
	return c
}

// Name identifies the provider in logs and metrics.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends a single rendered prompt and returns the model's reply.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

// CreateEmbedding creates an embedding for the given text.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned from openai")
	}

	return resp.Data[0].Embedding, nil
}
