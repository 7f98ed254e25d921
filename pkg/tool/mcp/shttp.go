package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"lectic/pkg/attachment"
	"lectic/pkg/header"
	"lectic/pkg/tool"
)

type shttpSpec struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	MCPSHTTP    shttpPeerFields `yaml:"mcp_shttp"`
}

type shttpPeerFields struct {
	URL string `yaml:"url"`
}

// shttpPeer speaks MCP's JSON-RPC framing over plain streamable HTTP
// POSTs, threading the session id the peer hands back on its first
// response into every subsequent request (§4.3; mirrors the pack's own
// "tools/call" over HTTP JSON-RPC client pattern).
type shttpPeer struct {
	url        string
	httpClient *http.Client
	nextID     int64

	mu        sync.RWMutex
	sessionID string
}

func dialSHTTP(url string) *shttpPeer {
	return &shttpPeer{url: url, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *shttpPeer) request(ctx context.Context, method string, params any) (jsonRPCResponse, error) {
	id := atomic.AddInt64(&p.nextID, 1)
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return jsonRPCResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return jsonRPCResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	p.mu.RLock()
	sessionID := p.sessionID
	p.mu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return jsonRPCResponse{}, fmt.Errorf("tool: mcp_shttp: request: %w", err)
	}
	defer resp.Body.Close()

	if newSessionID := resp.Header.Get("mcp-session-id"); newSessionID != "" {
		p.mu.Lock()
		p.sessionID = newSessionID
		p.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return jsonRPCResponse{}, fmt.Errorf("tool: mcp_shttp: status %d: %s", resp.StatusCode, respBody)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return jsonRPCResponse{}, fmt.Errorf("tool: mcp_shttp: read response: %w", err)
	}
	var out jsonRPCResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return jsonRPCResponse{}, fmt.Errorf("tool: mcp_shttp: decode response: %w", err)
	}
	return out, nil
}

func (p *shttpPeer) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", false, err
		}
	}
	resp, err := p.request(ctx, "tools/call", map[string]any{"name": name, "arguments": decoded})
	if err != nil {
		return "", false, err
	}
	if resp.Error != nil {
		return resp.Error.Message, true, nil
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, fmt.Errorf("tool: mcp_shttp: decode result: %w", err)
	}
	var text string
	for _, c := range result.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	return text, result.IsError, nil
}

func (p *shttpPeer) ReadResource(ctx context.Context, uri string) ([]attachment.Part, error) {
	resp, err := p.request(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool: mcp_shttp: read resource %s: %s", uri, resp.Error.Message)
	}
	var result struct {
		Contents []struct {
			URI      string `json:"uri"`
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
			Blob     string `json:"blob"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("tool: mcp_shttp: decode resource: %w", err)
	}
	parts := make([]attachment.Part, 0, len(result.Contents))
	for _, c := range result.Contents {
		body := c.Text
		if body == "" {
			body = c.Blob
		}
		parts = append(parts, attachment.Part{
			Bytes:    []byte(body),
			Mimetype: tool.CollapseMimetype(c.MIMEType),
			URI:      c.URI,
		})
	}
	return parts, nil
}

func (p *shttpPeer) Close() error { return nil }

// NewStreamableHTTP builds the "mcp_shttp" variant (§4.3
// mcp_{command,ws,shttp}).
func NewStreamableHTTP(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
	var cfg shttpSpec
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	if cfg.MCPSHTTP.URL == "" {
		return nil, fmt.Errorf("tool: mcp_shttp: url is required")
	}
	peer := dialSHTTP(cfg.MCPSHTTP.URL)

	resp, err := peer.request(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("tool: mcp_shttp: list tools: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool: mcp_shttp: list tools: %s", resp.Error.Message)
	}
	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		return nil, fmt.Errorf("tool: mcp_shttp: decode tool list: %w", err)
	}

	if cfg.Name != "" {
		registerPeer(cfg.Name, peer)
	}
	caps := make([]Capability, 0, len(listed.Tools))
	for _, lt := range listed.Tools {
		caps = append(caps, Capability{Name: lt.Name, Description: lt.Description, Schema: lt.InputSchema})
	}
	return toolsFromCapabilities(peer, caps)
}
