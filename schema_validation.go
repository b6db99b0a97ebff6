package keyapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidationError represents a result that does not have the shape its
// method promises
type SchemaValidationError struct {
	Type    string          `json:"type"`
	Method  string          `json:"method,omitempty"`
	Details string          `json:"details"`
	Value   json.RawMessage `json:"value,omitempty"`
}

func (e *SchemaValidationError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("Schema validation failed for result of '%s': %s", e.Method, e.Details)
	}
	return fmt.Sprintf("Schema validation failed: %s", e.Details)
}

// definitions shared by every result schema
const schemaDefinitions = `{
	"envId": {
		"type": "object",
		"required": ["envId"],
		"properties": {"envId": {"type": "string"}}
	},
	"proofId": {
		"type": "object",
		"required": ["env", "proofId"],
		"properties": {
			"env": {"$ref": "#/definitions/envId"},
			"proofId": {"type": "string"}
		}
	},
	"nodeId": {
		"type": "object",
		"required": ["nodeId", "proofId"],
		"properties": {
			"nodeId": {"type": "string"},
			"proofId": {"$ref": "#/definitions/proofId"}
		}
	},
	"treeNodeDesc": {
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"$ref": "#/definitions/nodeId"},
			"name": {"type": "string"}
		}
	},
	"nodeTextDesc": {
		"type": "object",
		"required": ["id", "result"],
		"properties": {
			"id": {
				"type": "object",
				"required": ["nodeId", "nodeTextId"],
				"properties": {
					"nodeId": {"$ref": "#/definitions/nodeId"},
					"nodeTextId": {"type": "integer"}
				}
			},
			"result": {"type": "string"}
		}
	},
	"nodeDesc": {
		"type": "object",
		"required": ["nodeId"],
		"properties": {
			"nodeId": {"$ref": "#/definitions/nodeId"},
			"branchLabel": {"type": ["string", "null"]},
			"scriptRuleApplication": {"type": "boolean"},
			"children": {
				"type": ["array", "null"],
				"items": {"$ref": "#/definitions/nodeDesc"}
			},
			"description": {"type": ["string", "null"]}
		}
	}
}`

// Result schemas by method.
var resultSchemas = map[string]string{
	MethodVersion:           `{"type": "string"}`,
	MethodLoad:              refSchema("proofId"),
	MethodLoadKey:           refSchema("proofId"),
	MethodProofTreeRoot:     refSchema("treeNodeDesc"),
	MethodProofTreeChildren: arraySchema("treeNodeDesc"),
	MethodGoalPrint:         refSchema("nodeTextDesc"),
	MethodProofGoals:        refSchema("nodeDesc"),
}

func refSchema(def string) string {
	return fmt.Sprintf(`{"definitions": %s, "allOf": [{"$ref": "#/definitions/%s"}]}`, schemaDefinitions, def)
}

func arraySchema(def string) string {
	return fmt.Sprintf(`{"definitions": %s, "type": "array", "items": {"$ref": "#/definitions/%s"}}`, schemaDefinitions, def)
}

// SchemaValidator checks call results against per-method JSON schemas
type SchemaValidator struct {
	mu       sync.Mutex
	sources  map[string]string
	compiled map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a validator for the KeY API result schemas
func NewSchemaValidator() *SchemaValidator {
	sources := make(map[string]string, len(resultSchemas))
	for method, schema := range resultSchemas {
		sources[method] = schema
	}
	return &SchemaValidator{
		sources:  sources,
		compiled: make(map[string]*gojsonschema.Schema),
	}
}

// Register sets the result schema for a method, replacing any existing one
func (sv *SchemaValidator) Register(method, schema string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.sources[method] = schema
	delete(sv.compiled, method)
}

// ValidateResult validates a method's result. Methods without a schema pass.
func (sv *SchemaValidator) ValidateResult(method string, value json.RawMessage) error {
	schema, err := sv.schema(method)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(value))
	if err != nil {
		return &SchemaValidationError{
			Type:    "InvalidJson",
			Method:  method,
			Details: fmt.Sprintf("Failed to read result for validation: %v", err),
			Value:   value,
		}
	}
	if !result.Valid() {
		var errorDetails []string
		for _, desc := range result.Errors() {
			errorDetails = append(errorDetails, fmt.Sprintf("  - %s", desc))
		}
		return &SchemaValidationError{
			Type:    "ResultValidation",
			Method:  method,
			Details: strings.Join(errorDetails, "\n"),
			Value:   value,
		}
	}
	return nil
}

// schema compiles a method's schema on first use
func (sv *SchemaValidator) schema(method string) (*gojsonschema.Schema, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if s, ok := sv.compiled[method]; ok {
		return s, nil
	}
	source, ok := sv.sources[method]
	if !ok {
		return nil, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, &SchemaValidationError{
			Type:    "SchemaCompilation",
			Method:  method,
			Details: fmt.Sprintf("Failed to compile schema: %v", err),
		}
	}
	sv.compiled[method] = s
	return s, nil
}
