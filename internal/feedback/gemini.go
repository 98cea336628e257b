package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel    = "gemini-2.5-flash"
	requestTimeout  = 45 * time.Second
)

var (
	// ErrModelUnavailable indicates that the completion endpoint rejected
	// or failed the request. Callers retry on demand, never automatically.
	ErrModelUnavailable = errors.New("feedback: model unavailable")
	// ErrEmptyCompletion indicates a well-formed response carrying no text.
	ErrEmptyCompletion = errors.New("feedback: empty completion")

	errMissingAPIKey       = errors.New("api key configuration required")
	ErrInvalidGeminiConfig = errors.New("feedback: invalid gemini client config")
)

// GeminiConfig bundles configuration required to instantiate a GeminiClient.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GeminiClient produces text completions through the generateContent
// REST endpoint.
type GeminiClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiClient constructs a client with validated configuration.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeminiConfig, errMissingAPIKey)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type generateRequest struct {
	SystemInstruction *contentBlock  `json:"systemInstruction,omitempty"`
	Contents          []contentBlock `json:"contents"`
}

type contentBlock struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content contentBlock `json:"content"`
	} `json:"candidates"`
}

// Complete sends the prompt with the given system instruction and returns
// the first candidate's text.
func (c *GeminiClient) Complete(ctx context.Context, systemInstruction string, prompt string) (string, error) {
	payload := generateRequest{
		Contents: []contentBlock{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if systemInstruction != "" {
		payload.SystemInstruction = &contentBlock{Parts: []part{{Text: systemInstruction}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-goog-api-key", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("completion transport failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		c.logger.Warn("completion rejected",
			zap.Int("status", response.StatusCode),
			zap.String("model", c.model))
		return "", fmt.Errorf("%w: status %d", ErrModelUnavailable, response.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var builder strings.Builder
	for _, candidate := range decoded.Candidates {
		for _, candidatePart := range candidate.Content.Parts {
			builder.WriteString(candidatePart.Text)
		}
		break
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
