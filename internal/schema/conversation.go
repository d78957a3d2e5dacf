package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	conversationSchemaBytes = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["role"],
    "properties": {
      "role": {"enum": ["system", "user", "assistant", "tool"]},
      "content": {"type": "string"},
      "tool_call_id": {"type": "string"},
      "name": {"type": "string"},
      "tool_calls": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["id", "name"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "name": {"type": "string", "minLength": 1},
            "arguments": {}
          }
        }
      }
    },
    "allOf": [
      {
        "if": {"properties": {"role": {"enum": ["system", "user"]}}},
        "then": {"required": ["content"], "properties": {"content": {"minLength": 1}}}
      },
      {
        "if": {"properties": {"role": {"const": "tool"}}},
        "then": {"required": ["tool_call_id", "content"]}
      }
    ]
  }
}`)

	conversationSchemaOnce sync.Once
	conversationCompiled   *jsonschema.Schema
	conversationSchemaErr  error
)

// ConversationSchema returns the raw JSON schema for a stored or uploaded
// conversation.
func ConversationSchema() []byte {
	return append([]byte(nil), conversationSchemaBytes...)
}

// ValidateConversationDocument validates JSON bytes against the conversation schema.
func ValidateConversationDocument(data []byte) error {
	conversationSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("conversation.json", bytes.NewReader(conversationSchemaBytes)); err != nil {
			conversationSchemaErr = fmt.Errorf("add conversation schema: %w", err)
			return
		}
		conversationCompiled, conversationSchemaErr = compiler.Compile("conversation.json")
	})
	if conversationSchemaErr != nil {
		return conversationSchemaErr
	}
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal conversation json: %w", err)
	}
	return conversationCompiled.Validate(payload)
}
