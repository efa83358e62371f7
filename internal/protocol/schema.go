package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaForType = map[string]string{
	TypeHello:     "hello.schema.json",
	TypeDeclare:   "declare.schema.json",
	TypeBlueprint: "blueprint.schema.json",
	TypeSpawn:     "spawn.schema.json",
	TypeUndo:      "command.schema.json",
	TypeRedo:      "command.schema.json",
	TypeJobs:      "command.schema.json",
}

// Validator checks inbound messages against the embedded schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{byType: map[string]*jsonschema.Schema{}}
	compiled := map[string]*jsonschema.Schema{}
	for typ, name := range schemaForType {
		s, ok := compiled[name]
		if !ok {
			s, err = c.Compile(name)
			if err != nil {
				return nil, fmt.Errorf("compile %s: %w", name, err)
			}
			compiled[name] = s
		}
		v.byType[typ] = s
	}
	return v, nil
}

// Known reports whether msgType is an inbound message type.
func (v *Validator) Known(msgType string) bool {
	_, ok := v.byType[msgType]
	return ok
}

// Validate checks raw against the schema for msgType.
func (v *Validator) Validate(msgType string, raw []byte) error {
	s, ok := v.byType[msgType]
	if !ok {
		return fmt.Errorf("unknown message type %q", msgType)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
