package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// OpenAIClient talks to the OpenAI API (or any compatible endpoint) for
// both chat completions and embeddings.
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	dimensions      int
	httpClient      *http.Client
}

// NewOpenAIClient creates a client against the given base URL, which
// should include the version prefix (e.g. https://api.openai.com/v1).
func NewOpenAIClient(apiKey, baseURL, completionModel, embeddingModel string, dimensions int) *OpenAIClient {
	return &OpenAIClient{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
		dimensions:      dimensions,
		httpClient:      &http.Client{},
	}
}

// Dimensions returns the embedding vector size.
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends a chat completion request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: c.completionModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal chat request: %w", err)
	}

	var result chatResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("llm: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion response")
	}
	return result.Choices[0].Message.Content, nil
}

// Embed generates an embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	reqBody, err := json.Marshal(embeddingRequest{Input: []string{text}, Model: c.embeddingModel})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("llm: marshal embedding request: %w", err)
	}

	var result embeddingResponse
	if err := c.post(ctx, "/embeddings", reqBody, &result); err != nil {
		return pgvector.Vector{}, err
	}
	if result.Error != nil {
		return pgvector.Vector{}, fmt.Errorf("llm: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Data) == 0 {
		return pgvector.Vector{}, fmt.Errorf("llm: empty embedding response")
	}
	return pgvector.NewVector(result.Data[0].Embedding), nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, reqBody []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llm: read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("llm: unmarshal response: %w", err)
	}
	return nil
}
