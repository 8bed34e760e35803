// Package capability is the router mapping an abstract capability
// (text, vision, tool_use, structured_output) to the concrete
// ModelConfig/ProviderConfig that currently serves it, and the
// tagged-variant HTTP clients (Claude-like, OpenAI-like, Ollama-like,
// mock) that carry out the actual request. Grounded on the teacher's
// pkg/ai package: BaseClient plus the AuthProvider/RequestConverter/
// ResponseConverter strategy interfaces it composes per provider.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"knowledge-engine/internal/circuitbreaker"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/retry"
)

// Request is one invocation of a capability. Messages carries the
// conversational prompt; ImageData is populated for vision requests;
// SchemaHint is the JSON Schema a structured_output request expects
// back.
type Request struct {
	Capability enginetypes.Capability
	Messages   []Message
	ImageData  []byte
	SchemaHint json.RawMessage
	MaxTokens  int
}

// Message is one turn of the prompt.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response is what a provider call returns.
type Response struct {
	Content  string
	Model    string
	Provider string
	Usage    Usage
}

// Usage reports token counts, when the provider exposes them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ErrModelMissing is returned by Router.Invoke when no model is
// currently assigned to serve the requested capability.
type ErrModelMissing struct {
	Capability enginetypes.Capability
}

func (e *ErrModelMissing) Error() string {
	return fmt.Sprintf("capability: no model assigned for %q", e.Capability)
}

// ClientConfig is the per-provider HTTP client configuration.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AuthProvider adds provider-specific authentication to an HTTP request.
type AuthProvider interface {
	AddAuth(req *http.Request, apiKey string)
}

// RequestConverter turns a Request into the provider's wire format.
type RequestConverter interface {
	ConvertRequest(req *Request, cfg *ClientConfig) (interface{}, error)
}

// ResponseConverter turns a provider's raw response body into Response.
type ResponseConverter interface {
	ConvertResponse(data []byte) (*Response, error)
}

// EmbedConverter builds an embeddings-endpoint request body for
// (model, text) and decodes the endpoint's response into a flat vector.
// Providers with no embeddings endpoint (Claude-like) leave this nil on
// their Client; see ErrEmbeddingUnsupported. The mock provider sets
// mockEmbedConverter.
type EmbedConverter interface {
	ConvertEmbedRequest(model, text string) (interface{}, error)
	ConvertEmbedResponse(data []byte) ([]float32, error)
}

// ErrEmbeddingUnsupported is returned by Client.Embed when the
// provider kind wired into this Client has no embeddings endpoint
// (e.g. Claude-like providers). Router.Embed falls back to the
// deterministic hashing embedding only for this specific error.
var ErrEmbeddingUnsupported = fmt.Errorf("capability: provider has no embeddings endpoint")

// Client is one configured provider endpoint, composed from the three
// strategy interfaces above the way the teacher's BaseClient composes
// AuthProvider/RequestConverter/ResponseConverter per provider.
type Client struct {
	cfg       *ClientConfig
	kind      enginetypes.ProviderKind
	http      *http.Client
	auth      AuthProvider
	reqConv   RequestConverter
	respConv  ResponseConverter
	embedConv EmbedConverter
	embedPath string
	retrier   *retry.Retrier
	breaker   *circuitbreaker.CircuitBreaker
	endpoint  string
}

// NewClient builds a Client for one provider endpoint. Every non-mock
// client gets its own circuit breaker, grounded on the teacher's
// internal/circuitbreaker package: a provider that starts timing out
// trips the breaker and fails fast instead of letting every caller
// exhaust the full retry budget against a provider that is already down.
func NewClient(kind enginetypes.ProviderKind, cfg *ClientConfig, endpoint string, auth AuthProvider, reqConv RequestConverter, respConv ResponseConverter) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:      cfg,
		kind:     kind,
		http:     &http.Client{Timeout: cfg.Timeout},
		auth:     auth,
		reqConv:  reqConv,
		respConv: respConv,
		retrier:  retry.New(retry.DefaultConfig()),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		endpoint: endpoint,
	}
}

// WithEmbeddings wires an embeddings endpoint onto an already-built
// Client, reusing its retrier/breaker/auth. Returns c for chaining.
func (c *Client) WithEmbeddings(path string, conv EmbedConverter) *Client {
	c.embedPath = path
	c.embedConv = conv
	return c
}

// Complete sends req to the provider, retrying transient failures
// (network, 429, 5xx) with exponential backoff, per spec.md §4.7.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	if c.kind == enginetypes.ProviderKindMock {
		resp, err := c.respConv.ConvertResponse(nil)
		if err != nil {
			return nil, err
		}
		resp.Provider, resp.Model = string(c.kind), c.cfg.Model
		return resp, nil
	}

	providerReq, err := c.reqConv.ConvertRequest(req, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("capability: convert request: %w", err)
	}
	body, err := json.Marshal(providerReq)
	if err != nil {
		return nil, fmt.Errorf("capability: marshal request: %w", err)
	}

	var resp *Response
	cbErr := c.breaker.Execute(ctx, func(ctx context.Context) error {
		result := c.retrier.Do(ctx, c.doRequest(body, &resp))
		return result.Err
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return resp, nil
}

// doRequest performs one HTTP attempt, classifying the error as
// retryable (network, 429, 5xx) or permanent (4xx, decode failure) for
// the retrier, and writes the parsed Response into *out on success.
func (c *Client) doRequest(body []byte, out **Response) func(context.Context) error {
	return func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.auth.AddAuth(httpReq, c.cfg.APIKey)

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return err // network errors are retried
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return fmt.Errorf("capability: provider status %d: %s", httpResp.StatusCode, string(data))
		}
		if httpResp.StatusCode >= 400 {
			return &retry.PermanentError{Err: fmt.Errorf("capability: provider status %d: %s", httpResp.StatusCode, string(data))}
		}

		parsed, err := c.respConv.ConvertResponse(data)
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
		parsed.Provider = string(c.kind)
		parsed.Model = c.cfg.Model
		*out = parsed
		return nil
	}
}

// Embed sends one text embedding request to the provider's embeddings
// endpoint, wrapped in the same circuit breaker and retrier as Complete
// (network/429/5xx retried with backoff, breaker trips on a provider
// that is already down), per spec.md §4.7's "retries... for transient
// errors (network, rate limit)". Returns ErrEmbeddingUnsupported
// unchanged (not retried, not tripped against the breaker) when this
// Client's provider kind has no embeddings endpoint wired.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedConv == nil {
		return nil, ErrEmbeddingUnsupported
	}
	if c.kind == enginetypes.ProviderKindMock {
		return c.embedConv.ConvertEmbedResponse(nil)
	}

	providerReq, err := c.embedConv.ConvertEmbedRequest(c.cfg.Model, text)
	if err != nil {
		return nil, fmt.Errorf("capability: convert embed request: %w", err)
	}
	body, err := json.Marshal(providerReq)
	if err != nil {
		return nil, fmt.Errorf("capability: marshal embed request: %w", err)
	}

	var vec []float32
	cbErr := c.breaker.Execute(ctx, func(ctx context.Context) error {
		result := c.retrier.Do(ctx, c.doEmbedRequest(body, &vec))
		return result.Err
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return vec, nil
}

// doEmbedRequest mirrors doRequest's retry/permanent-error
// classification against the embeddings endpoint instead of the
// chat/completion endpoint.
func (c *Client) doEmbedRequest(body []byte, out *[]float32) func(context.Context) error {
	return func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embedPath, bytes.NewReader(body))
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.auth.AddAuth(httpReq, c.cfg.APIKey)

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return err // network errors are retried
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return fmt.Errorf("capability: embed provider status %d: %s", httpResp.StatusCode, string(data))
		}
		if httpResp.StatusCode >= 400 {
			return &retry.PermanentError{Err: fmt.Errorf("capability: embed provider status %d: %s", httpResp.StatusCode, string(data))}
		}

		vec, err := c.embedConv.ConvertEmbedResponse(data)
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
		*out = vec
		return nil
	}
}
