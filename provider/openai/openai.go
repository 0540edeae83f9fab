package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arashpx/seekly/config"
)

// client implements the provider contract on top of the OpenAI chat API.
type client struct {
	api    *openai.Client
	models map[string]config.LLMModel
}

// New creates an OpenAI-backed provider from its config section.
func New(cfg config.LLMProviderConfig) *client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &client{
		api:    openai.NewClientWithConfig(clientCfg),
		models: cfg.Models,
	}
}

func (c *client) request(prompt, model string) (openai.ChatCompletionRequest, error) {
	mc, ok := c.models[model]
	if !ok {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model not configured: %s", model)
	}
	apiName := mc.APIName
	if apiName == "" {
		apiName = mc.Name
	}
	return openai.ChatCompletionRequest{
		Model:       apiName,
		Temperature: float32(mc.Temperature),
		MaxTokens:   mc.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}, nil
}

// Generate runs a single non-streaming completion.
func (c *client) Generate(ctx context.Context, prompt string, model string) (string, error) {
	req, err := c.request(prompt, model)
	if err != nil {
		return "", err
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs one completion in streaming mode, handing every token delta to
// fn. A non-nil error from fn stops consumption and is returned unchanged so
// callers can abort on client disconnect.
func (c *client) Stream(ctx context.Context, prompt string, model string, fn func(delta string) error) error {
	req, err := c.request(prompt, model)
	if err != nil {
		return err
	}
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return err
		}
	}
}

// Embed generates vector embeddings for the provided inputs.
func (c *client) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (c *client) AvailableModels() []string {
	out := make([]string, 0, len(c.models))
	for name := range c.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
