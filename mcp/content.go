package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// FlattenContent renders the content blocks of a tool result as text.
//
// Text blocks and embedded text resources are kept verbatim, binary blocks are
// replaced by a placeholder, resource links by their URI. Structured content
// is rendered as JSON when the result has no content blocks.
func FlattenContent(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}

	var parts []string
	for _, c := range res.Content {
		if s := contentText(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if js, err := json.Marshal(res.StructuredContent); err == nil {
			return string(js)
		}
	}
	return strings.Join(parts, "\n")
}

func contentText(c mcpsdk.Content) string {
	switch v := c.(type) {
	case *mcpsdk.TextContent:
		return v.Text
	case *mcpsdk.ImageContent:
		return fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data))
	case *mcpsdk.AudioContent:
		return fmt.Sprintf("[audio %s, %d bytes]", v.MIMEType, len(v.Data))
	case *mcpsdk.ResourceLink:
		return v.URI
	case *mcpsdk.EmbeddedResource:
		if v.Resource == nil {
			return ""
		}
		if v.Resource.Text != "" {
			return v.Resource.Text
		}
		return fmt.Sprintf("[resource %s %s, %d bytes]", v.Resource.URI, v.Resource.MIMEType, len(v.Resource.Blob))
	case nil:
		return ""
	default:
		js, _ := json.Marshal(c)
		return string(js)
	}
}
