package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type OpenAIClient struct {
	client  *openai.Client
	model   string
	embed   string
	limiter *rate.Limiter
}

// loadAPIKey reads the OpenAI API key from the environment or a mounted
// secret file and returns it wrapped in a memguard enclave so the raw key
// does not linger in pageable memory.
func loadAPIKey() (*memguard.Enclave, error) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return memguard.NewEnclave([]byte(key)), nil
	}
	secretPath := "/run/secrets/openai_api_key"
	keyBytes, err := os.ReadFile(secretPath)
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	slog.Info("Read the OpenAI API Key from mounted secrets")
	return memguard.NewEnclave([]byte(strings.TrimSpace(string(keyBytes)))), nil
}

func NewOpenAIClient() (*OpenAIClient, error) {
	enclave, err := loadAPIKey()
	if err != nil {
		return nil, err
	}
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	rpm := 60
	if v := os.Getenv("OPENAI_REQUESTS_PER_MINUTE"); v != "" {
		if parsed, perr := strconv.Atoi(v); perr == nil && parsed > 0 {
			rpm = parsed
		}
	}

	keyBuf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open API key enclave: %w", err)
	}
	client := openai.NewClient(keyBuf.String())
	keyBuf.Destroy()

	slog.Info("Initializing OpenAI client", "model", model, "embed_model", embedModel, "rpm", rpm)
	return &OpenAIClient{
		client:  client,
		model:   model,
		embed:   embedModel,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait aborted: %w", err)
	}
	slog.Debug("Generating text via OpenAI", "model", o.model)
	systemRoleContent := os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA")
	if systemRoleContent == "" {
		systemRoleContent = "You are a careful data analyst."
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRoleContent},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Embed implements the Embedder interface
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embed),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}
