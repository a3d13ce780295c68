package taskgraph

import (
	"fmt"
	"reflect"
)

// Task is the validated, immutable specification of one graph node.
//
// A Task owns deep copies of everything it was created from, so later
// changes to the caller's maps and slices never reach it. Overlay returns a
// new Task instead of changing the receiver.
type Task struct {
	id       string
	typeName string
	builder  Builder
	conf     any
	filePath string
	inputs   []string
	load     any
	save     bool
	hasSave  bool
}

// NewTask validates raw and returns the corresponding Task.
//
// Required fields are id, type and conf. The type field holds either the
// name of an implementation or a Builder handle. Keys that are not task
// fields are ignored.
func NewTask(raw map[string]any) (*Task, error) {
	id, _ := raw[FieldID].(string)

	doc := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != FieldType {
			doc[k] = v
		}
	}
	if err := validateFields(id, doc, true); err != nil {
		return nil, err
	}

	t := &Task{}
	t.assign(FieldID, raw[FieldID])
	id = t.id
	typ, ok := raw[FieldType]
	if !ok {
		return nil, &SchemaViolationError{TaskID: id, Field: FieldType, Reason: "type is required"}
	}
	if err := t.setType(typ); err != nil {
		return nil, err
	}
	for _, field := range []string{FieldConf, FieldFilePath, FieldInputs, FieldLoad, FieldSave} {
		if v, ok := raw[field]; ok {
			t.assign(field, v)
		}
	}
	return t, nil
}

// MustTask is like NewTask but panics on an invalid specification.
// It is intended for tests and package-level fixtures.
func MustTask(raw map[string]any) *Task {
	t, err := NewTask(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// TypeName returns the implementation name, or the Builder's declared type
// when the task was created from a handle.
func (t *Task) TypeName() string {
	if t.builder != nil {
		return t.builder.Metadata().Type
	}
	return t.typeName
}

// Builder returns the direct implementation handle, if the task has one.
func (t *Task) Builder() (Builder, bool) {
	return t.builder, t.builder != nil
}

// Conf returns a copy of the configuration.
func (t *Task) Conf() any { return deepCopy(t.conf) }

// ConfMap returns the configuration when it is a mapping, or an empty map.
func (t *Task) ConfMap() map[string]any {
	if m, ok := deepCopy(t.conf).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// FilePath returns the path of the external module holding the implementation.
func (t *Task) FilePath() string { return t.filePath }

// Inputs returns the ordered dependency identifiers.
func (t *Task) Inputs() []string { return append([]string(nil), t.inputs...) }

// Load returns the cache descriptor, or nil when the task is not cache backed.
func (t *Task) Load() any { return deepCopy(t.load) }

// Cached reports whether the task's output is already materialized and the
// task is treated as a root during execution.
func (t *Task) Cached() bool {
	switch v := t.load.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		return true
	}
}

// CacheKey returns the key under which the task's artifact is cached: the
// load descriptor when it is a non-empty string, the task id otherwise.
func (t *Task) CacheKey() string {
	if s, ok := t.load.(string); ok && s != "" {
		return s
	}
	if m, ok := t.load.(map[string]any); ok {
		if s, ok := m["key"].(string); ok && s != "" {
			return s
		}
	}
	return t.id
}

// Save reports whether the task's output is persisted after computation.
func (t *Task) Save() bool { return t.save }

// Get returns a copy of a field by wire name.
func (t *Task) Get(field string) (any, bool) {
	switch field {
	case FieldID:
		return t.id, true
	case FieldType:
		if t.builder != nil {
			return t.builder, true
		}
		return t.typeName, true
	case FieldConf:
		return t.Conf(), true
	case FieldFilePath:
		return t.filePath, t.filePath != ""
	case FieldInputs:
		return t.Inputs(), true
	case FieldLoad:
		return t.Load(), t.load != nil
	case FieldSave:
		return t.save, t.hasSave
	}
	return nil, false
}

// Set validates value for field and stores a deep copy of it.
func (t *Task) Set(field string, value any) error {
	if field == FieldType {
		return t.setType(value)
	}
	if _, known := taskProperties[field]; !known {
		return &SchemaViolationError{TaskID: t.id, Field: field, Reason: "unknown field"}
	}
	if err := validateFields(t.id, map[string]any{field: value}, false); err != nil {
		return err
	}
	t.assign(field, value)
	return nil
}

// Overlay returns a new Task with the top-level fields of replace applied
// over a copy of t. The result is validated as a whole; t is unchanged.
func (t *Task) Overlay(replace map[string]any) (*Task, error) {
	if len(replace) == 0 {
		return t.clone(), nil
	}
	raw := t.raw()
	for k, v := range replace {
		raw[k] = v
	}
	return NewTask(raw)
}

// Map returns the task as a generic map suitable for serialization.
// A Builder handle is written as its declared type name.
func (t *Task) Map() map[string]any {
	m := t.raw()
	m[FieldType] = t.TypeName()
	return m
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.id, t.TypeName())
}

func (t *Task) raw() map[string]any {
	m := map[string]any{
		FieldID:     t.id,
		FieldConf:   deepCopy(t.conf),
		FieldInputs: t.Inputs(),
	}
	if t.builder != nil {
		m[FieldType] = t.builder
	} else {
		m[FieldType] = t.typeName
	}
	if t.filePath != "" {
		m[FieldFilePath] = t.filePath
	}
	if t.load != nil {
		m[FieldLoad] = deepCopy(t.load)
	}
	if t.hasSave {
		m[FieldSave] = t.save
	}
	return m
}

func (t *Task) clone() *Task {
	c := *t
	c.conf = deepCopy(t.conf)
	c.inputs = t.Inputs()
	c.load = deepCopy(t.load)
	return &c
}

func (t *Task) setType(v any) error {
	switch typ := v.(type) {
	case string:
		if typ == "" {
			return &SchemaViolationError{TaskID: t.id, Field: FieldType, Reason: "type name is empty"}
		}
		t.typeName, t.builder = typ, nil
	case Builder:
		if isNilBuilder(typ) {
			return &SchemaViolationError{TaskID: t.id, Field: FieldType, Reason: "type handle is nil"}
		}
		t.typeName, t.builder = "", typ
	default:
		return &SchemaViolationError{
			TaskID: t.id,
			Field:  FieldType,
			Reason: fmt.Sprintf("type must be a name or a Builder, got %T", v),
		}
	}
	return nil
}

// assign stores an already validated value.
func (t *Task) assign(field string, v any) {
	switch field {
	case FieldID:
		t.id = reflect.ValueOf(v).String()
	case FieldConf:
		t.conf = deepCopy(v)
	case FieldFilePath:
		t.filePath = reflect.ValueOf(v).String()
	case FieldInputs:
		t.inputs = toStrings(v)
	case FieldLoad:
		t.load = deepCopy(v)
	case FieldSave:
		t.save, t.hasSave = reflect.ValueOf(v).Bool(), true
	}
}

func isNilBuilder(b Builder) bool {
	rv := reflect.ValueOf(b)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func toStrings(v any) []string {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	out := make([]string, rv.Len())
	for i := range out {
		out[i] = reflect.ValueOf(rv.Index(i).Interface()).String()
	}
	return out
}

// deepCopy copies maps and slices recursively. Other values are returned as is.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	return copyValue(reflect.ValueOf(v)).Interface()
}

func copyValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		c := copyValue(rv.Elem())
		out := reflect.New(rv.Type()).Elem()
		out.Set(c)
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyValue(rv.Index(i)))
		}
		return out
	default:
		return rv
	}
}
