package servicedef

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const messageSchemaURL = "https://schemas.launchdarkly.com/test-collector/message.json"

const messageSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["start", "test_state", "result", "complete", "getmessages", "connect", "error"]
    },
    "properties": {"type": ["object", "null"]},
    "test": {"anyOf": [{"type": "null"}, {"$ref": "#/$defs/test"}]},
    "tests": {
      "anyOf": [{"type": "null"}, {"type": "array", "items": {"$ref": "#/$defs/test"}}]
    },
    "status": {"anyOf": [{"type": "null"}, {"$ref": "#/$defs/status"}]},
    "message": {"type": ["string", "null"]},
    "stack": {"type": ["string", "null"]}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"enum": ["test_state", "result"]}}},
      "then": {"required": ["test"], "properties": {"test": {"type": "object"}}}
    },
    {
      "if": {"properties": {"type": {"const": "complete"}}},
      "then": {"required": ["status"], "properties": {"status": {"type": "object"}}}
    }
  ],
  "$defs": {
    "test": {
      "type": "object",
      "required": ["name", "index", "status"],
      "properties": {
        "name": {"type": "string"},
        "index": {"type": "integer", "minimum": 1},
        "phase": {"type": "integer", "minimum": 0, "maximum": 3},
        "status": {"type": "integer", "minimum": 0, "maximum": 3},
        "message": {"type": ["string", "null"]},
        "stack": {"type": ["string", "null"]},
        "properties": {"type": ["object", "null"]}
      }
    },
    "status": {
      "type": "object",
      "required": ["status"],
      "properties": {
        "status": {"type": "integer", "minimum": 0, "maximum": 2},
        "message": {"type": ["string", "null"]},
        "stack": {"type": ["string", "null"]}
      }
    }
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func messageSchemaValidator() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(messageSchemaURL, strings.NewReader(messageSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("add message schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(messageSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// DecodeMessage parses a message received from another execution context. The data must match
// the message schema; anything else is rejected before it can reach a suite.
func DecodeMessage(data []byte) (Message, error) {
	schema, err := messageSchemaValidator()
	if err != nil {
		return Message{}, err
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("malformed JSON message: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return Message{}, fmt.Errorf("invalid message %s: %w", truncate(string(data), 200), err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	return m, nil
}

// EncodeMessage is the inverse of DecodeMessage.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
