package capability

import (
	"encoding/json"
	"fmt"
	"net/http"

	"knowledge-engine/internal/enginetypes"
)

// NewProviderClient builds a Client for one ProviderConfig/ModelConfig
// pair. kind selects the wire format; a mock kind never leaves the
// process, useful for ConfirmCapability dry runs and tests.
func NewProviderClient(kind enginetypes.ProviderKind, baseURL, apiKey, model string) (*Client, error) {
	cfg := &ClientConfig{APIKey: apiKey, BaseURL: baseURL, Model: model}

	switch kind {
	case enginetypes.ProviderKindClaudeLike:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.anthropic.com/v1"
		}
		return NewClient(kind, cfg, cfg.BaseURL+"/messages", &claudeAuth{}, &claudeRequestConverter{}, &claudeResponseConverter{}), nil

	case enginetypes.ProviderKindOpenAILike:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		client := NewClient(kind, cfg, cfg.BaseURL+"/chat/completions", &bearerAuth{}, &openAIRequestConverter{}, &openAIResponseConverter{})
		return client.WithEmbeddings(cfg.BaseURL+"/embeddings", &openAIEmbedConverter{}), nil

	case enginetypes.ProviderKindOllamaLike:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		client := NewClient(kind, cfg, cfg.BaseURL+"/api/chat", &noAuth{}, &ollamaRequestConverter{}, &ollamaResponseConverter{})
		return client.WithEmbeddings(cfg.BaseURL+"/api/embeddings", &ollamaEmbedConverter{}), nil

	case enginetypes.ProviderKindMock:
		client := NewClient(kind, cfg, "", &noAuth{}, &mockRequestConverter{}, &mockResponseConverter{})
		return client.WithEmbeddings("", &mockEmbedConverter{}), nil

	default:
		return nil, fmt.Errorf("capability: unknown provider kind %q", kind)
	}
}

// --- Claude-like ---

type claudeAuth struct{}

func (claudeAuth) AddAuth(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequestBody struct {
	Model     string          `json:"model"`
	Messages  []claudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
}

type claudeRequestConverter struct{}

func (claudeRequestConverter) ConvertRequest(req *Request, cfg *ClientConfig) (interface{}, error) {
	body := claudeRequestBody{Model: cfg.Model, MaxTokens: req.MaxTokens}
	if body.MaxTokens == 0 {
		body.MaxTokens = 1024
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	return body, nil
}

type claudeResponseBody struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeResponseConverter struct{}

func (claudeResponseConverter) ConvertResponse(data []byte) (*Response, error) {
	var body claudeResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("capability: decode claude response: %w", err)
	}
	var text string
	if len(body.Content) > 0 {
		text = body.Content[0].Text
	}
	return &Response{
		Content: text,
		Usage: Usage{
			PromptTokens:     body.Usage.InputTokens,
			CompletionTokens: body.Usage.OutputTokens,
			TotalTokens:      body.Usage.InputTokens + body.Usage.OutputTokens,
		},
	}, nil
}

// --- OpenAI-like ---

type bearerAuth struct{}

func (bearerAuth) AddAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequestBody struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	ResponseFmt json.RawMessage `json:"response_format,omitempty"`
}

type openAIRequestConverter struct{}

func (openAIRequestConverter) ConvertRequest(req *Request, cfg *ClientConfig) (interface{}, error) {
	body := openAIRequestBody{Model: cfg.Model, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	if req.Capability == enginetypes.CapabilityStructuredOutput && len(req.SchemaHint) > 0 {
		body.ResponseFmt = req.SchemaHint
	}
	return body, nil
}

type openAIResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIResponseConverter struct{}

func (openAIResponseConverter) ConvertResponse(data []byte) (*Response, error) {
	var body openAIResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("capability: decode openai response: %w", err)
	}
	var text string
	if len(body.Choices) > 0 {
		text = body.Choices[0].Message.Content
	}
	return &Response{
		Content: text,
		Usage: Usage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		},
	}, nil
}

// --- Ollama-like (local, unauthenticated) ---

type noAuth struct{}

func (noAuth) AddAuth(*http.Request, string) {}

type ollamaRequestBody struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaRequestConverter struct{}

func (ollamaRequestConverter) ConvertRequest(req *Request, cfg *ClientConfig) (interface{}, error) {
	body := ollamaRequestBody{Model: cfg.Model, Stream: false}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return body, nil
}

type ollamaResponseBody struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type ollamaResponseConverter struct{}

func (ollamaResponseConverter) ConvertResponse(data []byte) (*Response, error) {
	var body ollamaResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("capability: decode ollama response: %w", err)
	}
	return &Response{Content: body.Message.Content}, nil
}

// openAIEmbedConverter talks to OpenAI's POST /embeddings endpoint
// (request {model, input}, response {data: [{embedding}]}).
type openAIEmbedConverter struct{}

type openAIEmbedRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

func (openAIEmbedConverter) ConvertEmbedRequest(model, text string) (interface{}, error) {
	return openAIEmbedRequestBody{Model: model, Input: text}, nil
}

type openAIEmbedResponseBody struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (openAIEmbedConverter) ConvertEmbedResponse(data []byte) ([]float32, error) {
	var body openAIEmbedResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("capability: decode openai embedding response: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("capability: openai embedding response carried no data")
	}
	return body.Data[0].Embedding, nil
}

// ollamaEmbedConverter talks to Ollama's POST /api/embeddings endpoint
// (request {model, prompt}, response {embedding}).
type ollamaEmbedConverter struct{}

type ollamaEmbedRequestBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (ollamaEmbedConverter) ConvertEmbedRequest(model, text string) (interface{}, error) {
	return ollamaEmbedRequestBody{Model: model, Prompt: text}, nil
}

type ollamaEmbedResponseBody struct {
	Embedding []float32 `json:"embedding"`
}

func (ollamaEmbedConverter) ConvertEmbedResponse(data []byte) ([]float32, error) {
	var body ollamaEmbedResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("capability: decode ollama embedding response: %w", err)
	}
	return body.Embedding, nil
}

// --- mock (no network, used for tests and as a dry-run capability probe) ---

type mockRequestConverter struct{}

func (mockRequestConverter) ConvertRequest(req *Request, cfg *ClientConfig) (interface{}, error) {
	return req, nil
}

type mockResponseConverter struct{}

func (mockResponseConverter) ConvertResponse(data []byte) (*Response, error) {
	return &Response{Content: "mock response"}, nil
}

// mockEmbedConverter returns a fixed small vector with no network I/O,
// so tests can exercise Client.Embed without a live provider. For the
// mock kind Client.Embed returns this vector directly, without going
// through the retrier or breaker.
type mockEmbedConverter struct{}

func (mockEmbedConverter) ConvertEmbedRequest(model, text string) (interface{}, error) {
	return map[string]string{"model": model, "input": text}, nil
}

func (mockEmbedConverter) ConvertEmbedResponse(data []byte) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
