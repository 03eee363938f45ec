package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	emaildomain "mailrecall-backend/internal/email/domain"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds the settings for an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is sent as the requested output width; zero leaves it to the model.
	Dimensions int
}

// OpenAIEmbedder calls any OpenAI-compatible /embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider: %w", emaildomain.ErrConfiguration)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: cfg.Dimensions,
	}, nil
}

func (o *OpenAIEmbedder) Name() string { return string(ProviderOpenAI) }

func (o *OpenAIEmbedder) Model() string { return string(ProviderOpenAI) + "/" + string(o.model) }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          o.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if o.dimensions > 0 {
		req.Dimensions = o.dimensions
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d vectors for %d texts: %w",
			len(resp.Data), len(texts), emaildomain.ErrDependency)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range: %w", d.Index, emaildomain.ErrDependency)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// parseAPIError keeps the upstream status and message and marks the error as a dependency failure.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, emaildomain.ErrDependency)
		}
		return fmt.Errorf("embedding API error %d: %w: %w", reqErr.HTTPStatusCode, emaildomain.ErrDependency, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, emaildomain.ErrDependency)
	}

	return fmt.Errorf("embedding request failed: %w: %w", emaildomain.ErrDependency, err)
}

func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
