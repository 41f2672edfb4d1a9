package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.json", bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("manifest.json")
	})
	return compiled, compileErr
}

// ValidateShape checks raw manifest.json bytes against the bundle manifest
// JSON Schema before Parse is called — defense in depth beyond the
// raw-bytes signature verification already required, catching a
// structurally malformed manifest before it is ever unmarshaled into Go
// types.
func ValidateShape(raw []byte) error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode manifest.json for schema validation: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("manifest.json failed schema validation: %w", err)
	}
	return nil
}
