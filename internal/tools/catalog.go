// Package tools knows the agent-side tool catalog and runs the validated
// approval-and-dispatch pipeline every tool call goes through.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/toolrelay/internal/relay"
)

// Catalog holds the compiled argument schema of every known tool.
type Catalog struct {
	schemas map[string]*jsonschema.Schema
	names   []string
}

// NewCatalog compiles the built-in schemas.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]*jsonschema.Schema, len(schemas))}
	compiler := jsonschema.NewCompiler()
	for name, raw := range schemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		url := name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		c.schemas[name] = sch
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// MustCatalog panics if the built-in schemas do not compile.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Has(tool string) bool {
	_, ok := c.schemas[tool]
	return ok
}

// Names returns the tool names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Validate checks args against the tool's schema.
func (c *Catalog) Validate(tool string, args map[string]any) error {
	sch, ok := c.schemas[tool]
	if !ok {
		return relay.Validationf(tool, "Unknown tool: %s", tool)
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through the validator's decoder so numbers arrive as json.Number.
	raw, err := json.Marshal(args)
	if err != nil {
		return relay.Validationf(tool, "encode arguments: %v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return relay.Validationf(tool, "decode arguments: %v", err)
	}
	if err := sch.Validate(inst); err != nil {
		return relay.Validationf(tool, "invalid arguments for %s: %s", tool, strings.Join(strings.Fields(err.Error()), " "))
	}
	return nil
}
