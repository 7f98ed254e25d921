package tool

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Base implements the name/description/schema boilerplate every variant
// shares; variant types in this package and its subpackages embed it and
// only need to implement Call (§4.3: name, parameters, required are
// uniform across variants; call is the only variant-specific behavior).
type Base struct {
	name        string
	description string
	usage       string
	properties  map[string]any
	required    []string
	schema      *jsonschema.Schema
}

// NewBase compiles the tool's JSON Schema once and returns a Base ready
// to embed.
func NewBase(name, description, usage string, properties map[string]any, required []string) (Base, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	schema, err := CompileSchema(name, properties, required)
	if err != nil {
		return Base{}, err
	}
	return Base{
		name:        name,
		description: description,
		usage:       usage,
		properties:  properties,
		required:    required,
		schema:      schema,
	}, nil
}

func (b *Base) Name() string               { return b.name }
func (b *Base) Description() string        { return b.description }
func (b *Base) Usage() string              { return b.usage }
func (b *Base) Parameters() map[string]any { return b.properties }
func (b *Base) Required() []string         { return b.required }
func (b *Base) Validate(args []byte) error { return ValidateArgs(b.schema, args) }
