package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var ErrNotFound = errors.New("policy document not found")

// Violation is one schema error at a dotted instance path.
type Violation struct {
	Path    string
	Message string
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Source     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid policy document %s:", e.Source)
	for _, v := range e.Violations {
		fmt.Fprintf(&sb, "\n- %s: %s", v.Path, v.Message)
	}
	return sb.String()
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("invalid embedded policy schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("prompt-config.schema.json", doc); err != nil {
		return nil, fmt.Errorf("invalid embedded policy schema: %w", err)
	}
	return c.Compile("prompt-config.schema.json")
})

// LoadFile reads a JSON or YAML (by extension) policy document.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (create it from prompt-config.example.json)", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return Parse(path, data)
}

// Parse validates a JSON document against the embedded schema and decodes it.
// source only labels errors.
func Parse(source string, data []byte) (*Document, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, &ValidationError{Source: source, Violations: violations(ve)}
		}
		return nil, fmt.Errorf("validate %s: %w", source, err)
	}

	var doc Document
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	doc.index()
	return &doc, nil
}

func violations(root *jsonschema.ValidationError) []Violation {
	p := message.NewPrinter(language.English)
	var out []Violation
	var walk func(*jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) == 0 {
			path := strings.Join(ve.InstanceLocation, ".")
			if path == "" {
				path = "(root)"
			}
			out = append(out, Violation{Path: path, Message: ve.ErrorKind.LocalizedString(p)})
			return
		}
		for _, c := range ve.Causes {
			walk(c)
		}
	}
	walk(root)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// yamlToJSON re-encodes a YAML document as JSON. Mapping keys and the
// keepConversationPrompts items are stringified so unquoted numeric chat ids
// work in both places.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	v = stringKeys(v)
	if root, ok := v.(map[string]any); ok {
		if ids, ok := root["keepConversationPrompts"].([]any); ok {
			for i, id := range ids {
				switch id.(type) {
				case int, int64, uint64, float64:
					ids[i] = fmt.Sprint(id)
				}
			}
		}
	}
	return json.Marshal(v)
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	default:
		return v
	}
}
