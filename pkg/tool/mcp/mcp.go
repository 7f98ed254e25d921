// Package mcp implements the "mcp_command", "mcp_ws", and "mcp_shttp"
// tool variants: connecting to a Model Context Protocol peer over
// stdio-exec, WebSocket, or streamable HTTP, and exposing one Tool per
// peer-exposed capability plus a resource reader for the peer's
// "resources/read" endpoint (§4.3).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"lectic/pkg/attachment"
	"lectic/pkg/header"
	"lectic/pkg/tool"
)

// Peer is the minimal contract every transport (stdio, ws, streamable
// HTTP) implements so peerTool and resourceFetcher stay transport-
// agnostic.
type Peer interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (text string, isError bool, err error)
	ReadResource(ctx context.Context, uri string) ([]attachment.Part, error)
	Close() error
}

// Capability is one tool the peer advertises via "tools/list".
type Capability struct {
	Name        string
	Description string
	Schema      map[string]any
}

// peerTool adapts one MCP capability to the uniform tool.Tool contract.
type peerTool struct {
	tool.Base
	peer Peer
	name string
}

func (p *peerTool) Call(ctx context.Context, args []byte) ([]tool.Result, error) {
	text, isError, err := p.peer.CallTool(ctx, p.name, json.RawMessage(args))
	if err != nil {
		return nil, fmt.Errorf("tool: mcp: call %s: %w", p.name, err)
	}
	if isError {
		return nil, fmt.Errorf("tool: mcp: %s: %s", p.name, text)
	}
	return []tool.Result{{Text: text, Mimetype: tool.CollapseMimetype("text/plain")}}, nil
}

// toolsFromCapabilities builds one peerTool per advertised capability,
// deriving each's JSON-Schema properties/required from the peer's raw
// input schema.
func toolsFromCapabilities(peer Peer, caps []Capability) ([]tool.Tool, error) {
	out := make([]tool.Tool, 0, len(caps))
	for _, c := range caps {
		props, required := schemaParts(c.Schema)
		base, err := tool.NewBase(c.Name, c.Description, "", props, required)
		if err != nil {
			return nil, fmt.Errorf("tool: mcp: build %s: %w", c.Name, err)
		}
		out = append(out, &peerTool{Base: base, peer: peer, name: c.Name})
	}
	return out, nil
}

func schemaParts(schema map[string]any) (map[string]any, []string) {
	if schema == nil {
		return map[string]any{}, nil
	}
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	var required []string
	if raw, ok := schema["required"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

// ResourceFetcher adapts a connected Peer to attachment.Fetcher so
// pkg/pipeline can register it against attachment.KindMCPResource for
// links written as "SCHEME+uri" (§3 Link).
type ResourceFetcher struct {
	Peer Peer
}

func (f ResourceFetcher) Fetch(ctx context.Context, uri string) ([]attachment.Part, error) {
	return f.Peer.ReadResource(ctx, uri)
}

var (
	peersMu sync.Mutex
	peers   = map[string]Peer{}
)

// registerPeer records one connected Peer under its tool spec's name so
// pkg/pipeline can later look it up to build a ResourceFetcher, without
// the variant constructors (NewCommand/NewWebsocket/NewStreamableHTTP)
// needing to return anything beyond the uniform ([]tool.Tool, error)
// Constructor signature.
func registerPeer(name string, p Peer) {
	peersMu.Lock()
	defer peersMu.Unlock()
	peers[name] = p
}

// PeerByName returns the Peer registered under a tool spec's name, for
// pkg/pipeline to wrap in a ResourceFetcher after registry construction.
func PeerByName(name string) (Peer, bool) {
	peersMu.Lock()
	defer peersMu.Unlock()
	p, ok := peers[name]
	return p, ok
}

func decodeSpec(spec header.ToolSpec, dst any) error {
	if err := spec.Node.Decode(dst); err != nil {
		return fmt.Errorf("tool: mcp: %w", err)
	}
	return nil
}
