package mcp

import (
	"encoding/json"
	"testing"

	"github.com/ollama/ollama/api"
)

func TestConvertToolsToOllama(t *testing.T) {
	tests := []struct {
		name     string
		input    []ToolDescriptor
		expected int
		validate func(t *testing.T, result []api.Tool)
	}{
		{
			name:     "empty tools",
			input:    []ToolDescriptor{},
			expected: 0,
			validate: func(t *testing.T, result []api.Tool) {
				if len(result) != 0 {
					t.Errorf("expected empty slice, got %d tools", len(result))
				}
			},
		},
		{
			name: "single simple tool",
			input: []ToolDescriptor{
				{
					ServerID:    "weather",
					Name:        "get_weather",
					Description: "Get current weather",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []api.Tool) {
				if result[0].Type != "function" {
					t.Errorf("expected type 'function', got %q", result[0].Type)
				}
				if result[0].Function.Name != "weather.get_weather" {
					t.Errorf("expected namespaced name 'weather.get_weather', got %q", result[0].Function.Name)
				}
				if result[0].Function.Description != "Get current weather" {
					t.Errorf("expected description 'Get current weather', got %q", result[0].Function.Description)
				}
			},
		},
		{
			name: "tool with properties",
			input: []ToolDescriptor{
				{
					ServerID:    "calc",
					Name:        "calculate",
					Description: "Perform calculation",
					InputSchema: json.RawMessage(`{
						"type": "object",
						"properties": {
							"operation": {
								"type": "string",
								"description": "The operation to perform",
								"enum": ["add", "subtract"]
							},
							"a": {"type": "number"},
							"b": {"type": "number"}
						},
						"required": ["operation", "a", "b"]
					}`),
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []api.Tool) {
				params := result[0].Function.Parameters
				if params.Type != "object" {
					t.Errorf("expected type 'object', got %q", params.Type)
				}
				if len(params.Required) != 3 {
					t.Errorf("expected 3 required fields, got %d", len(params.Required))
				}
				if len(params.Properties) != 3 {
					t.Errorf("expected 3 properties, got %d", len(params.Properties))
				}
				op, ok := params.Properties["operation"]
				if !ok {
					t.Fatal("missing operation property")
				}
				if len(op.Type) != 1 || op.Type[0] != "string" {
					t.Errorf("expected type [string], got %v", op.Type)
				}
				if len(op.Enum) != 2 {
					t.Errorf("expected 2 enum values, got %d", len(op.Enum))
				}
			},
		},
		{
			name: "bad schema is dropped",
			input: []ToolDescriptor{
				{
					ServerID:    "broken",
					Name:        "bad",
					InputSchema: json.RawMessage(`{not json`),
				},
				{
					ServerID:    "ok",
					Name:        "good",
					InputSchema: json.RawMessage(`{"type":"object"}`),
				},
			},
			expected: 1,
			validate: func(t *testing.T, result []api.Tool) {
				if result[0].Function.Name != "ok.good" {
					t.Errorf("expected the surviving tool 'ok.good', got %q", result[0].Function.Name)
				}
			},
		},
		{
			name: "missing schema defaults to object",
			input: []ToolDescriptor{
				{ServerID: "s", Name: "noop"},
			},
			expected: 1,
			validate: func(t *testing.T, result []api.Tool) {
				if result[0].Function.Parameters.Type != "object" {
					t.Errorf("expected type 'object', got %q", result[0].Function.Parameters.Type)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToolsToOllama(tt.input)
			if len(result) != tt.expected {
				t.Fatalf("expected %d tools, got %d", tt.expected, len(result))
			}
			tt.validate(t, result)
		})
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	descs := []ToolDescriptor{
		{
			ServerID:    "fs",
			Name:        "read_file",
			Description: "Read a file",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
		{
			ServerID:    "broken",
			Name:        "bad",
			InputSchema: json.RawMessage(`not json`),
		},
	}

	result := ConvertToolsToOpenAI(descs)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool after dropping the bad schema, got %d", len(result))
	}

	fn := result[0].OfFunction
	if fn == nil {
		t.Fatal("expected function tool")
	}
	if fn.Function.Name != "fs.read_file" {
		t.Errorf("expected namespaced name 'fs.read_file', got %q", fn.Function.Name)
	}
	params := fn.Function.Parameters
	if params["type"] != "object" {
		t.Errorf("expected type 'object', got %v", params["type"])
	}
	required, ok := params["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "path" {
		t.Errorf("unexpected required: %v", params["required"])
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	descs := []ToolDescriptor{
		{
			ServerID:    "fs",
			Name:        "read_file",
			Description: "Read a file",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		},
	}

	result := ConvertToolsToAnthropic(descs)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	tool := result[0].OfTool
	if tool == nil {
		t.Fatal("expected tool variant")
	}
	if tool.Name != "fs.read_file" {
		t.Errorf("expected namespaced name 'fs.read_file', got %q", tool.Name)
	}
	if len(tool.InputSchema.Required) != 1 {
		t.Errorf("expected 1 required field, got %d", len(tool.InputSchema.Required))
	}
}
