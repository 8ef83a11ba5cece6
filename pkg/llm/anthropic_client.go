package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicAPIURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"

// AnthropicClient is a Client implementation talking directly to the
// Anthropic Messages API over HTTP, the same plain net/http.Client shape
// pkg/runbook/github.go uses for its GitHub calls — there is no HTTP
// client library anywhere in this tree to reach for instead.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
}

// NewAnthropicClient constructs an AnthropicClient. It does not validate
// apiKey; the gateway does not either (WorkerAgent checks the key before
// each call).
func NewAnthropicClient(httpClient *http.Client, apiKey string) *AnthropicClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicClient{httpClient: httpClient, apiKey: apiKey}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *anthropicErrorBody     `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Call implements Client by POSTing to the Anthropic Messages endpoint
// and classifying any failure into a ProviderError so the gateway's
// retry policy can decide whether to retry.
func (c *AnthropicClient) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	messages := make([]anthropicMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = anthropicMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return CallResponse{}, &ProviderError{Class: ErrorClassValidation, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, strings.NewReader(string(body)))
	if err != nil {
		return CallResponse{}, &ProviderError{Class: ErrorClassValidation, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallResponse{}, &ProviderError{Class: classifyTransportErr(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResponse{}, &ProviderError{Class: ErrorClassConnection, Err: fmt.Errorf("read response body: %w", err)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CallResponse{}, &ProviderError{Class: ErrorClassOther, Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return CallResponse{}, &ProviderError{Class: classifyStatusErr(resp.StatusCode), Err: anthropicStatusError(resp.StatusCode, parsed)}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return CallResponse{
		Content:      text.String(),
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

func anthropicStatusError(status int, parsed anthropicResponse) error {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return fmt.Errorf("anthropic API returned HTTP %d: %s", status, parsed.Error.Message)
	}
	return fmt.Errorf("anthropic API returned HTTP %d", status)
}

func classifyStatusErr(status int) ErrorClass {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorClassAuthentication
	case http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorClassTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorClassValidation
	default:
		if status >= 500 {
			return ErrorClassConnection
		}
		return ErrorClassOther
	}
}

func classifyTransportErr(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	return ErrorClassConnection
}
