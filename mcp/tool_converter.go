package mcp

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"nore/config"
)

// toolSchema is the JSON Schema subset tool servers declare for their
// inputs. Descriptors carry it as raw JSON; converters decode it here.
type toolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
	Defs       map[string]any `json:"$defs,omitempty"`
}

func decodeSchema(desc ToolDescriptor) (toolSchema, bool) {
	var schema toolSchema
	if len(desc.InputSchema) > 0 {
		if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
			switch {
			case config.DebugLog != nil:
				config.DebugLog.Printf("[MCP] Dropping tool %q: bad input schema: %v", desc.ModelName(), err)
			}
			return toolSchema{}, false
		}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, true
}

// ConvertToolsToOllama converts tool descriptors to Ollama API tool
// format. Tools whose schema does not decode are dropped, not fatal.
func ConvertToolsToOllama(descs []ToolDescriptor) []api.Tool {
	ollamaTools := make([]api.Tool, 0, len(descs))

	for _, desc := range descs {
		schema, ok := decodeSchema(desc)
		if !ok {
			continue
		}
		ollamaTools = append(ollamaTools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        desc.ModelName(),
				Description: desc.Description,
				Parameters:  convertSchemaToParameters(schema),
			},
		})
	}

	return ollamaTools
}

func convertSchemaToParameters(schema toolSchema) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{
		Type:       schema.Type,
		Required:   schema.Required,
		Properties: make(map[string]api.ToolProperty),
	}

	if schema.Defs != nil {
		params.Defs = schema.Defs
	}

	for propName, propValue := range schema.Properties {
		params.Properties[propName] = convertPropertyValue(propValue)
	}

	return params
}

// convertPropertyValue converts a JSON Schema property to an Ollama ToolProperty
func convertPropertyValue(propValue any) api.ToolProperty {
	toolProp := api.ToolProperty{}

	propMap, ok := propValue.(map[string]any)
	if !ok {
		// If it's not a map, try to marshal and unmarshal it
		bytes, err := json.Marshal(propValue)
		if err != nil {
			return toolProp
		}
		var m map[string]any
		if err := json.Unmarshal(bytes, &m); err != nil {
			return toolProp
		}
		propMap = m
	}

	// Type can be a string or a list of strings
	if typeVal, ok := propMap["type"]; ok {
		switch t := typeVal.(type) {
		case string:
			toolProp.Type = api.PropertyType{t}
		case []string:
			toolProp.Type = api.PropertyType(t)
		case []any:
			types := make([]string, 0, len(t))
			for _, v := range t {
				if s, ok := v.(string); ok {
					types = append(types, s)
				}
			}
			toolProp.Type = api.PropertyType(types)
		}
	}

	if desc, ok := propMap["description"].(string); ok {
		toolProp.Description = desc
	}

	if enumVal, ok := propMap["enum"]; ok {
		if enumSlice, ok := enumVal.([]any); ok {
			toolProp.Enum = enumSlice
		}
	}

	// Items for array types
	if items, ok := propMap["items"]; ok {
		toolProp.Items = items
	}

	// anyOf for union types
	if anyOfVal, ok := propMap["anyOf"]; ok {
		if anyOfSlice, ok := anyOfVal.([]any); ok {
			anyOfProps := make([]api.ToolProperty, 0, len(anyOfSlice))
			for _, item := range anyOfSlice {
				anyOfProps = append(anyOfProps, convertPropertyValue(item))
			}
			toolProp.AnyOf = anyOfProps
		}
	}

	return toolProp
}

// ConvertToolsToOpenAI converts tool descriptors to the OpenAI chat
// completions tool format. Both sides are JSON Schema, so the schema
// passes through as a parameter map.
func ConvertToolsToOpenAI(descs []ToolDescriptor) []openai.ChatCompletionToolUnionParam {
	if len(descs) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, 0, len(descs))

	for _, desc := range descs {
		schema, ok := decodeSchema(desc)
		if !ok {
			continue
		}

		params := openai.FunctionParameters{
			"type":       schema.Type,
			"properties": schema.Properties,
		}

		if len(schema.Required) > 0 {
			params["required"] = schema.Required
		}

		if schema.Defs != nil {
			params["$defs"] = schema.Defs
		}

		result = append(result, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        desc.ModelName(),
				Description: openai.String(desc.Description),
				Parameters:  params,
			},
		))
	}

	return result
}

// ConvertToolsToAnthropic converts tool descriptors to Anthropic's
// tool-use format.
func ConvertToolsToAnthropic(descs []ToolDescriptor) []anthropic.ToolUnionParam {
	if len(descs) == 0 {
		return nil
	}

	result := make([]anthropic.ToolUnionParam, 0, len(descs))

	for _, desc := range descs {
		schema, ok := decodeSchema(desc)
		if !ok {
			continue
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			// Type defaults to "object" when omitted
			Properties: schema.Properties,
		}

		if len(schema.Required) > 0 {
			inputSchema.Required = schema.Required
		}

		if schema.Defs != nil {
			// $defs rides along in ExtraFields
			inputSchema.ExtraFields = map[string]any{
				"$defs": schema.Defs,
			}
		}

		tool := anthropic.ToolUnionParamOfTool(inputSchema, desc.ModelName())
		if desc.Description != "" {
			tool.OfTool.Description = anthropic.String(desc.Description)
		}
		result = append(result, tool)
	}

	return result
}
