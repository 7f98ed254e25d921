package tool

import (
	"context"
	"fmt"

	"lectic/pkg/header"
)

// NativeKind enumerates the provider-native capabilities a "native" tool
// can name (§3 Message: "native ∈ {search, code}").
type NativeKind string

const (
	NativeSearch NativeKind = "search"
	NativeCode   NativeKind = "code"
)

type nativeSpec struct {
	Native      string `yaml:"native"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// native is a marker only (§4.3): Call always returns an error. Provider
// adapters receive it through Registry.Specs() like any other tool, as a
// plain function declaration with no parameters; no adapter maps Kind to
// a provider-native capability.
type native struct {
	Base
	Kind NativeKind
}

// NewNative builds the "native" variant from its ToolSpec.
func NewNative(ctx context.Context, spec header.ToolSpec) ([]Tool, error) {
	var cfg nativeSpec
	if err := spec.Node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tool: native: %w", err)
	}
	kind := NativeKind(cfg.Native)
	if kind != NativeSearch && kind != NativeCode {
		return nil, fmt.Errorf("tool: native: unknown kind %q (want search or code)", cfg.Native)
	}
	name := cfg.Name
	if name == "" {
		name = "native_" + string(kind)
	}
	base, err := NewBase(name, cfg.Description, "", nil, nil)
	if err != nil {
		return nil, err
	}
	return []Tool{&native{Base: base, Kind: kind}}, nil
}

func (n *native) Call(ctx context.Context, args []byte) ([]Result, error) {
	return nil, fmt.Errorf("tool: native %q is handled by the provider, not called directly", n.Name())
}
