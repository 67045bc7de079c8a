// Package schema validates remote JSON documents (security registry, action
// descriptors, actions.json manifests) before they are decoded.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var files embed.FS

// Document names.
const (
	Registry        = "registry.json"
	Action          = "action.json"
	ActionsManifest = "actions_manifest.json"
)

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func load() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[string]*jsonschema.Schema)
		c := jsonschema.NewCompiler()
		for _, name := range []string{Registry, Action, ActionsManifest} {
			raw, err := files.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		for _, name := range []string{Registry, Action, ActionsManifest} {
			sch, err := c.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			compiled[name] = sch
		}
	})
	return compiled, compileErr
}

// Validate checks body against the named schema.
func Validate(name string, body []byte) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	sch, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("document is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
