package host

import (
	"encoding/json"

	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/llms"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolDefinitions converts the catalog to function definitions for the model.
func ToolDefinitions(catalog []mcp.Tool) []llms.Tool {
	defs := make([]llms.Tool, 0, len(catalog))
	for _, t := range catalog {
		schema := t.InputSchema
		if len(schema) == 0 || string(schema) == "null" {
			schema = emptyObjectSchema
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return defs
}
