package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"helmsman/internal/fault"
	"helmsman/internal/logger"
)

// schemaDoc maps strategy kinds to JSON schemas in the watched YAML file.
type schemaDoc struct {
	Strategies map[string]map[string]any `yaml:"strategies"`
}

type compiledSchema struct {
	kind   Kind
	schema *jsonschema.Schema
}

// SchemaRegistry loads the per-kind configuration schemas from a YAML file
// and revalidates the set on every file change. Validation failures name the
// specific field and rule that failed, not just "invalid configuration".
type SchemaRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	schemas  map[Kind]compiledSchema
	loadedAt time.Time
	version  int64
}

// NewSchemaRegistry reads the schema document and starts watching it.
func NewSchemaRegistry(path string) (*SchemaRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("schema registry requires a path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy schema file: %w", err)
	}
	r := &SchemaRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy schema reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

func (r *SchemaRegistry) reload() error {
	doc, err := readSchemaFile(r.path)
	if err != nil {
		return err
	}
	schemas := make(map[Kind]compiledSchema, len(doc.Strategies))
	for name, raw := range doc.Strategies {
		kind := Kind(strings.TrimSpace(name))
		if !kind.Valid() {
			return fmt.Errorf("strategy schema file declares unknown kind %q", name)
		}
		compiled, err := compileSchema(raw)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", kind, err)
		}
		schemas[kind] = compiledSchema{kind: kind, schema: compiled}
	}
	r.mu.Lock()
	r.schemas = schemas
	r.loadedAt = time.Now()
	r.version++
	version := r.version
	r.mu.Unlock()
	logger.Infof("Strategy schema registry loaded %d kinds from %s (v%d)",
		len(schemas), filepath.Base(r.path), version)
	return nil
}

// Validate checks a raw configuration document against the schema for its
// kind. Errors are CONFIG_VALIDATION faults carrying the failed field.
func (r *SchemaRegistry) Validate(kind Kind, raw map[string]any) error {
	const op = "strategy.SchemaRegistry.Validate"
	if !kind.Valid() {
		return fault.Newf(fault.ConfigValidation, op, "kind: unknown strategy kind %q", kind)
	}
	r.mu.RLock()
	entry, ok := r.schemas[kind]
	r.mu.RUnlock()
	if !ok {
		return fault.Newf(fault.ConfigValidation, op, "no schema registered for kind %q", kind)
	}
	if err := entry.schema.Validate(normalizeJSON(raw)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := leafError(verr)
			field := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if field == "" {
				field = "config"
			}
			return fault.Newf(fault.ConfigValidation, op, "%s: %s", field, leaf.Message)
		}
		return fault.New(fault.ConfigValidation, op, err)
	}
	return nil
}

// Version reports the reload generation, for tests and the health endpoint.
func (r *SchemaRegistry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// leafError walks to the deepest cause so the reported field is the one that
// actually failed, not the document root.
func leafError(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

func compileSchema(raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readSchemaFile(path string) (schemaDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schemaDoc{}, fmt.Errorf("read strategy schema file: %w", err)
	}
	var doc schemaDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return schemaDoc{}, fmt.Errorf("parse strategy schema file: %w", err)
	}
	if len(doc.Strategies) == 0 {
		return schemaDoc{}, fmt.Errorf("strategy schema file declares no kinds")
	}
	return doc, nil
}

// normalizeJSON round-trips the document through encoding/json so the
// validator sees json.Number-free plain types the way yaml delivers them.
func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
