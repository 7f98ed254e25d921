package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"lectic/pkg/attachment"
	"lectic/pkg/header"
	"lectic/pkg/tool"
)

type stdioSpec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	MCPCommand  stdioCommandFields `yaml:"mcp_command"`
}

type stdioCommandFields struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// stdioPeer wraps an mcp-go client connected over stdio.
type stdioPeer struct {
	client *client.Client
}

// NewCommand builds the "mcp_command" variant, connecting to the peer
// over a stdio subprocess (§4.3 mcp_{command,ws,shttp}).
func NewCommand(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
	var cfg stdioSpec
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	if cfg.MCPCommand.Command == "" {
		return nil, fmt.Errorf("tool: mcp_command: command is required")
	}

	env := make([]string, 0, len(cfg.MCPCommand.Env))
	for k, v := range cfg.MCPCommand.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.MCPCommand.Command, env, cfg.MCPCommand.Args...)
	if err != nil {
		return nil, fmt.Errorf("tool: mcp_command: new client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("tool: mcp_command: start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "lectic", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("tool: mcp_command: initialize: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("tool: mcp_command: list tools: %w", err)
	}

	peer := &stdioPeer{client: c}
	if cfg.Name != "" {
		registerPeer(cfg.Name, peer)
	}
	caps := make([]Capability, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		schema, _ := schemaToMap(mt.InputSchema)
		caps = append(caps, Capability{Name: mt.Name, Description: mt.Description, Schema: schema})
	}
	return toolsFromCapabilities(peer, caps)
}

func schemaToMap(schema mcp.ToolInputSchema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *stdioPeer) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", false, err
		}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = decoded

	resp, err := p.client.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}
	return textFromContent(resp.Content), resp.IsError, nil
}

func textFromContent(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func (p *stdioPeer) ReadResource(ctx context.Context, uri string) ([]attachment.Part, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	resp, err := p.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool: mcp_command: read resource %s: %w", uri, err)
	}
	var parts []attachment.Part
	for _, c := range resp.Contents {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			parts = append(parts, attachment.Part{
				Bytes:    []byte(v.Text),
				Mimetype: tool.CollapseMimetype(v.MIMEType),
				URI:      v.URI,
			})
		case mcp.BlobResourceContents:
			parts = append(parts, attachment.Part{
				Bytes:    []byte(v.Blob),
				Mimetype: v.MIMEType,
				URI:      v.URI,
			})
		}
	}
	return parts, nil
}

func (p *stdioPeer) Close() error { return p.client.Close() }
