package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ImageURLJSON is the JSON form of an image reference.
type ImageURLJSON struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolResponseJSON is the JSON form of a tool response.
type ToolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// ContentPartJSON is the union JSON form of a content part.
type ContentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ImageURL     *ImageURLJSON     `json:"image_url,omitempty"`
	ToolCall     *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse *ToolResponseJSON `json:"tool_response,omitempty"`
}

// messageJSON is the wire form of Message. Content is accepted on input
// for compatibility with the chat completions message shape.
type messageJSON struct {
	Role    string            `json:"role"`
	Text    string            `json:"text,omitempty"`
	Parts   []ContentPartJSON `json:"parts,omitempty"`
	Content json.RawMessage   `json:"content,omitempty"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok {
			return json.Marshal(messageJSON{Role: string(m.Role), Text: tp.Text})
		}
	}

	js := messageJSON{
		Role:  string(m.Role),
		Parts: make([]ContentPartJSON, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		pj, err := marshalContentPart(p)
		if err != nil {
			return nil, err
		}
		js.Parts = append(js.Parts, pj)
	}
	return json.Marshal(js)
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var js messageJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return errors.WithStack(err)
	}

	role, err := ParseRole(js.Role)
	if err != nil {
		return err
	}
	m.Role = role
	m.Parts = nil

	if js.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: js.Text}}
		return nil
	}

	if len(js.Content) > 0 {
		var s string
		if err := json.Unmarshal(js.Content, &s); err == nil {
			m.Parts = []ContentPart{TextContent{Text: s}}
			return nil
		}
		if err := json.Unmarshal(js.Content, &js.Parts); err != nil {
			return errors.Wrap(err, "content must be a string or an array of parts")
		}
	}

	for _, pj := range js.Parts {
		part, err := unmarshalContentPart(pj)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func marshalContentPart(p ContentPart) (ContentPartJSON, error) {
	switch typ := p.(type) {
	case TextContent:
		return ContentPartJSON{Type: "text", Text: typ.Text}, nil
	case ImageURLContent:
		return ContentPartJSON{Type: "image_url", ImageURL: &ImageURLJSON{URL: typ.URL, Detail: typ.Detail}}, nil
	case ToolCall:
		tc := typ
		return ContentPartJSON{Type: "tool_call", ToolCall: &tc}, nil
	case ToolCallResponse:
		return ContentPartJSON{Type: "tool_response", ToolResponse: &ToolResponseJSON{
			ToolCallID: typ.ToolCallID,
			Name:       typ.Name,
			Content:    typ.Content,
		}}, nil
	default:
		return ContentPartJSON{}, errors.Newf("unsupported content part: %T", p)
	}
}

func unmarshalContentPart(pj ContentPartJSON) (ContentPart, error) {
	switch pj.Type {
	case "text", "":
		return TextContent{Text: pj.Text}, nil
	case "image_url":
		if pj.ImageURL == nil || pj.ImageURL.URL == "" {
			return nil, errors.New("image_url field is required for image_url type")
		}
		return ImageURLContent{URL: pj.ImageURL.URL, Detail: pj.ImageURL.Detail}, nil
	case "tool_call":
		if pj.ToolCall == nil || pj.ToolCall.ID == "" {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		tc := *pj.ToolCall
		if tc.FunctionCall == nil {
			tc.FunctionCall = &FunctionCall{}
		}
		return tc, nil
	case "tool_response":
		if pj.ToolResponse == nil || pj.ToolResponse.ToolCallID == "" {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: pj.ToolResponse.ToolCallID,
			Name:       pj.ToolResponse.Name,
			Content:    pj.ToolResponse.Content,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}
