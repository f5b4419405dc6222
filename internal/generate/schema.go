package generate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Schema describes the JSON shape a generation must produce. It is derived
// from a Go struct: the json tag names the field, the desc tag documents it,
// and a "required" validate rule marks it as mandatory.
type Schema struct {
	Name string
	typ  reflect.Type
	doc  map[string]any
}

// SchemaFor builds the schema of T, which must be a struct type.
func SchemaFor[T any](name string) *Schema {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("generate: schema %s must be a struct, got %s", name, t.Kind()))
	}
	return &Schema{Name: name, typ: t, doc: jsonSchema(t)}
}

// JSONSchema returns the schema as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	return s.doc
}

// FormatInstructions renders the machine-readable instructions embedded in the system prompt.
func (s *Schema) FormatInstructions() string {
	raw, _ := json.Marshal(s.doc)
	var b strings.Builder
	b.WriteString("You must format your output as a JSON value that adheres to a given \"JSON Schema\" instance.\n\n")
	b.WriteString("\"JSON Schema\" is a declarative language that allows you to annotate and validate JSON documents.\n\n")
	b.WriteString("For example, the example \"JSON Schema\" instance {\"properties\": {\"foo\": {\"description\": \"a list of test words\", \"type\": \"array\", \"items\": {\"type\": \"string\"}}}, \"required\": [\"foo\"]}\n")
	b.WriteString("would match an object with one required property, \"foo\". The \"type\" property specifies \"foo\" must be an \"array\", and the \"description\" property semantically describes it as \"a list of test words\". The items within \"foo\" must be strings.\n")
	b.WriteString("Thus, the object {\"foo\": [\"bar\", \"baz\"]} is a well-formatted instance of this example \"JSON Schema\". The object {\"properties\": {\"foo\": [\"bar\", \"baz\"]}} is not well-formatted.\n\n")
	b.WriteString("Your output will be parsed and type-checked according to the provided schema instance, so make sure all fields in your output match the schema exactly and there are no trailing commas!\n")
	b.WriteString("Escape double quotes inside string values with a backslash and write line breaks inside strings as \\n.\n\n")
	b.WriteString("Here is the JSON Schema instance your output must adhere to. Include the enclosing markdown codeblock:\n```json\n")
	b.Write(raw)
	b.WriteString("\n```\n")
	return b.String()
}

func jsonSchema(t reflect.Type) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		props := map[string]any{}
		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "-" {
				continue
			}
			prop := jsonSchema(f.Type)
			if d := f.Tag.Get("desc"); d != "" {
				prop["description"] = d
			}
			props[name] = prop
			if isRequired(f) {
				required = append(required, name)
			}
		}
		doc := map[string]any{"type": "object", "properties": props, "additionalProperties": false}
		if len(required) > 0 {
			doc["required"] = required
		}
		return doc
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": jsonSchema(t.Elem())}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	default:
		return map[string]any{"type": "string"}
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func isRequired(f reflect.StructField) bool {
	for _, rule := range strings.Split(f.Tag.Get("validate"), ",") {
		if rule == "required" {
			return true
		}
	}
	return false
}
