package openaiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// ToolType is the type of a tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// ChatRequest is a request to complete a chat completion.
type ChatRequest struct {
	Model       string         `json:"model"`
	Messages    []*ChatMessage `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	// MaxCompletionTokens is the maximum number of tokens to generate in the chat completion.
	MaxCompletionTokens int      `json:"max_completion_tokens,omitempty"`
	StopWords           []string `json:"stop,omitempty"`

	Tools []Tool `json:"tools,omitempty"`
	// ToolChoice is either "none", "auto", "required" or a specific tool.
	ToolChoice any `json:"tool_choice,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// ResponseFormat is the response_format field of the request.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Tool is a tool to use in a chat request.
type Tool struct {
	Type     ToolType           `json:"type"`
	Function FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition is a definition of a function that can be called by the model.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ContentPart is an element of the content array of a user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is an image reference in a content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ChatMessage is a message in a chat request.
type ChatMessage struct {
	// The role of the author of this message. One of system, user, assistant, or tool.
	Role string `json:"role"`
	// The content of the message, plain text.
	Content string `json:"-"`
	// MultiContent is used instead of Content when the message carries images.
	MultiContent []ContentPart `json:"-"`
	// ToolCalls is a list of tools that were called in the message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID is the ID of the tool call this message is for.
	// Only present in tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MarshalJSON writes content as a string or an array of parts.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type alias ChatMessage
	msg := struct {
		alias
		Content any `json:"content"`
	}{alias: alias(m)}

	switch {
	case len(m.MultiContent) > 0:
		msg.Content = m.MultiContent
	case m.Content != "" || len(m.ToolCalls) == 0:
		msg.Content = m.Content
	}
	return json.Marshal(msg)
}

// UnmarshalJSON reads content from a string or an array of text parts.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias ChatMessage
	msg := struct {
		*alias
		Content json.RawMessage `json:"content"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.WithStack(err)
	}
	if len(msg.Content) == 0 || string(msg.Content) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Content, &m.Content); err == nil {
		return nil
	}
	return errors.WithStack(json.Unmarshal(msg.Content, &m.MultiContent))
}

// ToolCall is a call to a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function ToolFunction `json:"function,omitempty"`
}

// ToolFunction is a function to be called in a tool choice.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionChoice is a choice in a chat response.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage is the usage of a chat completion request.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is a response to a chat request.
type ChatCompletionResponse struct {
	ID                string                  `json:"id,omitempty"`
	Choices           []*ChatCompletionChoice `json:"choices,omitempty"`
	Created           int64                   `json:"created,omitempty"`
	Model             string                  `json:"model,omitempty"`
	Object            string                  `json:"object,omitempty"`
	Usage             ChatUsage               `json:"usage,omitempty"`
	SystemFingerprint string                  `json:"system_fingerprint,omitempty"`
}

func (c *Client) createChat(ctx context.Context, payload *ChatRequest) (*ChatCompletionResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	u := c.buildURL("/chat/completions", payload.Model)
	logger.ContextKV(ctx, xlog.DEBUG, "url", u, "model", payload.Model, "messages", len(payload.Messages))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(req)

	r, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = r.Body.Close() }()

	if r.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned unexpected status code: %d", r.StatusCode)
		if r.StatusCode == http.StatusNotFound {
			msg += ": url: " + u
		}

		// No need to check the error here: if it fails, we'll just return the
		// status code.
		var errResp errorMessage
		if err := json.NewDecoder(r.Body).Decode(&errResp); err != nil || errResp.Error.Message == "" {
			return nil, errors.New(msg)
		}
		return nil, errors.Newf("%s: %s", msg, errResp.Error.Message)
	}

	var response ChatCompletionResponse
	if err := json.NewDecoder(r.Body).Decode(&response); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &response, nil
}
