package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName = "openai"

	openAIDefaultChatModel  = "gpt-4o"
	openAIDefaultImageModel = "gpt-image-1"
)

// OpenAIConfig configures the OpenAI-backed generators.
type OpenAIConfig struct {
	Credentials *CredentialCache
	ChatModel   string
	ImageModel  string
	Temperature float64
	MaxRetries  int           // SDK transport retries
	Timeout     time.Duration // HTTP timeout
	BaseURL     string        // Optional (tests)
	HTTPClient  *http.Client  // Optional (tests)
}

// OpenAIClient implements StoryboardGenerator and ImageGenerator on the
// official SDK. Credentials come from the TTL cache per request, so key
// rotation does not require a rebuild.
type OpenAIClient struct {
	creds       *CredentialCache
	chatModel   string
	imageModel  string
	temperature float64
	client      openai.Client
}

// NewOpenAIClient creates a client from config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.ChatModel == "" {
		cfg.ChatModel = openAIDefaultChatModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openAIDefaultImageModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		creds:       cfg.Credentials,
		chatModel:   cfg.ChatModel,
		imageModel:  cfg.ImageModel,
		temperature: cfg.Temperature,
		client:      openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// GenerateStoryboard extracts a storyboard document from chapter text via
// chat completions with a JSON-schema response format.
func (c *OpenAIClient) GenerateStoryboard(ctx context.Context, req StoryboardRequest) (json.RawMessage, error) {
	key, err := c.creds.Get(ctx)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(storyboardSystemPrompt),
			openai.UserMessage(storyboardUserPrompt(req)),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if len(req.Schema) > 0 {
		var schemaDoc any
		if err := json.Unmarshal(req.Schema, &schemaDoc); err != nil {
			return nil, fmt.Errorf("parse storyboard schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "storyboard",
					Schema: schemaDoc,
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return parseStructuredJSON(resp.Choices[0].Message.Content)
}

// GenerateImage renders one panel image. Preview mode trades quality for
// speed and cost.
func (c *OpenAIClient) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	key, err := c.creds.Get(ctx)
	if err != nil {
		return nil, err
	}

	params := openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(c.imageModel),
		N:       openai.Int(1),
		Quality: openai.ImageGenerateParamsQuality(qualityFor(req.Mode)),
	}

	resp, err := c.client.Images.Generate(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("openai returned no image data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return &ImageResult{Data: data, MIME: "image/png"}, nil
}

func qualityFor(mode string) string {
	if mode == "hd" {
		return "high"
	}
	return "low"
}

// mapError normalizes SDK errors; auth failures also drop the cached
// credential so a rotated key is picked up on retry.
func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			c.creds.Invalidate()
			return fmt.Errorf("openai auth failed (status %d): %s", apiErr.StatusCode, apiErr.Message)
		case http.StatusTooManyRequests:
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("openai rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("openai error (status %d)", apiErr.StatusCode)
	}
	return err
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

const storyboardSystemPrompt = `You are a storyboard artist adapting novels into visual productions. Extract the characters, recurring scenes, and a panel-by-panel storyboard from the chapter you are given. Reuse scene ids and character names from the continuity document exactly when they refer to the same entity. Respond with JSON only.`

func storyboardUserPrompt(req StoryboardRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Novel: %s\nChapter: %d\n\n", req.NovelTitle, req.Chapter)
	if len(req.Bible) > 0 {
		fmt.Fprintf(&b, "Continuity document (established characters and scenes):\n%s\n\n", req.Bible)
	}
	fmt.Fprintf(&b, "Chapter text:\n%s", req.Text)
	return b.String()
}

var (
	_ StoryboardGenerator = (*OpenAIClient)(nil)
	_ ImageGenerator      = (*OpenAIClient)(nil)
)
