package taskgraph

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Task specification field names as they appear in serialized graphs.
const (
	FieldID       = "id"
	FieldType     = "type"
	FieldConf     = "conf"
	FieldFilePath = "filepath"
	FieldInputs   = "inputs"
	FieldLoad     = "load"
	FieldSave     = "save"
)

// fieldOrder is the order fields are written in, chosen so re-saved graphs diff cleanly.
var fieldOrder = []string{FieldID, FieldType, FieldConf, FieldInputs, FieldFilePath, FieldLoad, FieldSave}

// FieldOrder returns the stable serialization order of task fields.
func FieldOrder() []string {
	return append([]string(nil), fieldOrder...)
}

// taskProperties is the JSON Schema of every JSON-representable task field.
// The type field is checked in Go because it may hold a Builder handle.
var taskProperties = map[string]interface{}{
	FieldID: map[string]interface{}{
		"type":      "string",
		"minLength": 1,
	},
	FieldConf: map[string]interface{}{
		"type": []string{"object", "array"},
	},
	FieldFilePath: map[string]interface{}{
		"type": "string",
	},
	FieldInputs: map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	},
	FieldLoad: map[string]interface{}{
		"type": []string{"null", "boolean", "string", "object"},
	},
	FieldSave: map[string]interface{}{
		"type": "boolean",
	},
}

var (
	taskSchemaOnce  sync.Once
	taskSchema      *gojsonschema.Schema
	fieldSchema     *gojsonschema.Schema
	taskSchemaError error
)

func compileTaskSchemas() (*gojsonschema.Schema, *gojsonschema.Schema, error) {
	taskSchemaOnce.Do(func() {
		full := map[string]interface{}{
			"type":       "object",
			"properties": taskProperties,
			"required":   []string{FieldID, FieldConf},
		}
		taskSchema, taskSchemaError = gojsonschema.NewSchema(gojsonschema.NewGoLoader(full))
		if taskSchemaError != nil {
			return
		}
		partial := map[string]interface{}{
			"type":       "object",
			"properties": taskProperties,
		}
		fieldSchema, taskSchemaError = gojsonschema.NewSchema(gojsonschema.NewGoLoader(partial))
	})
	return taskSchema, fieldSchema, taskSchemaError
}

// validateFields checks the JSON-representable fields of doc against the task
// schema and reports the first offending field.
func validateFields(taskID string, doc map[string]interface{}, requireAll bool) error {
	full, partial, err := compileTaskSchemas()
	if err != nil {
		return fmt.Errorf("compile task schema: %w", err)
	}
	schema := partial
	if requireAll {
		schema = full
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(shapeDocument(doc)))
	if err != nil {
		return &SchemaViolationError{TaskID: taskID, Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	issues := result.Errors()
	sort.SliceStable(issues, func(i, j int) bool {
		return fieldRank(resultField(issues[i])) < fieldRank(resultField(issues[j]))
	})
	first := issues[0]
	return &SchemaViolationError{
		TaskID: taskID,
		Field:  resultField(first),
		Reason: first.Description(),
	}
}

// resultField maps a gojsonschema error onto the top-level task field it concerns.
func resultField(re gojsonschema.ResultError) string {
	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			return prop
		}
	}
	field := re.Field()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[:i]
	}
	return field
}

func fieldRank(field string) int {
	for i, f := range fieldOrder {
		if f == field {
			return i
		}
	}
	return len(fieldOrder)
}

// shapeDocument replaces conf and load by stand-ins that only carry their
// JSON kind, so arbitrary Go values inside a configuration never reach the
// JSON encoder used by the schema loader.
func shapeDocument(doc map[string]interface{}) map[string]interface{} {
	shaped := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == FieldInputs {
			shaped[k] = shapeInputs(v)
			continue
		}
		shaped[k] = shapeOf(v)
	}
	return shaped
}

// shapeOf keeps scalars as they are and collapses containers to empty ones.
// Kinds with no JSON form become a number, which no task field accepts.
func shapeOf(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return map[string]interface{}{}
		}
		return 0
	case reflect.Slice, reflect.Array:
		return []interface{}{}
	default:
		return 0
	}
}

func shapeInputs(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return shapeOf(v)
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = shapeOf(rv.Index(i).Interface())
		if m, ok := items[i].(map[string]interface{}); ok && len(m) == 0 {
			items[i] = 0
		}
	}
	return items
}
