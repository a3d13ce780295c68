package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/agentstation/taskgraph"
)

// JSONPathNodeBuilder builds JSONPath extraction nodes.
type JSONPathNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *JSONPathNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "jsonpath",
		Category:    "data",
		Description: "Extracts data from its input using a JSONPath expression",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "JSONPath expression to extract data",
				},
				"multiple": map[string]interface{}{
					"type":        "boolean",
					"default":     false,
					"description": "Return all matches as array (true) or first match only (false)",
				},
				"default": map[string]interface{}{
					"description": "Default value if path not found",
				},
				"unwrap": map[string]interface{}{
					"type":        "boolean",
					"default":     true,
					"description": "Unwrap single-element arrays",
				},
				"columns": map[string]interface{}{
					"type":                 "object",
					"description":          "Output column contract, when the result is rows",
					"additionalProperties": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"path"},
		},
		Since: "1.0.0",
	}
}

// Build creates a JSONPath node. The expression is parsed here so a bad
// path fails resolution rather than the run.
func (b *JSONPathNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	conf := task.ConfMap()
	pathStr, _ := conf["path"].(string)
	if pathStr == "" {
		return nil, fmt.Errorf("path is required")
	}
	expr, err := jp.ParseString(pathStr)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression: %w", err)
	}

	multiple := boolConf(conf, "multiple", false)
	unwrap := boolConf(conf, "unwrap", true)
	defaultValue := conf["default"]
	declared := columnsConf(conf["columns"])

	return taskgraph.NewNode(task, taskgraph.Steps{
		Columns: func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			if _, _, err := singleColumns(task, inputs); err != nil {
				return nil, err
			}
			return declared.Clone(), nil
		},
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			_, input, err := singleInput(task, inputs)
			if err != nil {
				return nil, err
			}
			if frame, ok := input.(Frame); ok {
				input = frame.Generic()
			}

			results := expr.Get(input)
			if len(results) == 0 {
				if defaultValue != nil {
					return defaultValue, nil
				}
				if multiple {
					return []any{}, nil
				}
				return nil, nil
			}
			if multiple {
				return results, nil
			}

			result := results[0]
			if unwrap {
				if arr, ok := result.([]any); ok && len(arr) == 1 {
					result = arr[0]
				}
			}
			return result, nil
		},
	}), nil
}

// ValidateNodeBuilder builds JSON Schema validation nodes.
type ValidateNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *ValidateNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "validate",
		Category:    "data",
		Description: "Validates its input against a JSON Schema",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"schema": map[string]interface{}{
					"type":        "object",
					"description": "JSON Schema to validate against",
				},
				"schema_file": map[string]interface{}{
					"type":        "string",
					"description": "Path to JSON Schema file (alternative to inline schema)",
				},
				"fail_on_error": map[string]interface{}{
					"type":        "boolean",
					"default":     true,
					"description": "Fail on invalid data (true) or emit a validation report (false)",
				},
			},
			"oneOf": []map[string]interface{}{
				{"required": []string{"schema"}},
				{"required": []string{"schema_file"}},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a validate node. With fail_on_error the node passes its
// input through unchanged; otherwise it emits a report with the keys
// valid, errors and data.
func (b *ValidateNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	conf := task.ConfMap()

	var loader gojsonschema.JSONLoader
	if schema, ok := conf["schema"]; ok {
		loader = gojsonschema.NewGoLoader(schema)
	} else {
		schemaFile, _ := conf["schema_file"].(string)
		content, err := os.ReadFile(schemaFile) // #nosec G304 - schema files are user-configured
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		loader = gojsonschema.NewBytesLoader(content)
	}
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	failOnError := boolConf(conf, "fail_on_error", true)

	steps := taskgraph.Steps{
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			_, input, err := singleInput(task, inputs)
			if err != nil {
				return nil, err
			}
			doc := input
			if frame, ok := input.(Frame); ok {
				doc = frame.Generic()
			}

			result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
			if err != nil {
				return nil, fmt.Errorf("validation error: %w", err)
			}
			if failOnError {
				if !result.Valid() {
					msgs := make([]string, 0, len(result.Errors()))
					for _, re := range result.Errors() {
						msgs = append(msgs, re.String())
					}
					return nil, fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
				}
				return input, nil
			}

			errs := make([]any, 0, len(result.Errors()))
			for _, re := range result.Errors() {
				errs = append(errs, map[string]any{
					"field":       re.Field(),
					"type":        re.Type(),
					"description": re.Description(),
				})
			}
			return map[string]any{
				"valid":  result.Valid(),
				"errors": errs,
				"data":   input,
			}, nil
		},
	}
	if !failOnError {
		steps.Columns = func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			return nil, nil
		}
	}
	return taskgraph.NewNode(task, steps), nil
}
