package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"lectic/pkg/attachment"
	"lectic/pkg/header"
	"lectic/pkg/tool"
)

type wsSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	MCPWS       wsPeerFields `yaml:"mcp_ws"`
}

type wsPeerFields struct {
	URL string `yaml:"url"`
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsPeer speaks MCP's JSON-RPC framing over a single long-lived
// WebSocket connection, one request in flight at a time (mirrors the
// pack's own single-writer-over-one-socket pattern for control-plane
// connections).
type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan jsonRPCResponse
}

func dialWS(url string) (*wsPeer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("tool: mcp_ws: dial %s: %w", url, err)
	}
	p := &wsPeer{conn: conn, pending: map[int64]chan jsonRPCResponse{}}
	go p.readLoop()
	return p, nil
}

func (p *wsPeer) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		if ok {
			delete(p.pending, resp.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (p *wsPeer) request(ctx context.Context, method string, params any) (jsonRPCResponse, error) {
	id := atomic.AddInt64(&p.nextID, 1)
	ch := make(chan jsonRPCResponse, 1)
	p.mu.Lock()
	p.pending[id] = ch
	err := p.conn.WriteJSON(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	p.mu.Unlock()
	if err != nil {
		return jsonRPCResponse{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return jsonRPCResponse{}, ctx.Err()
	}
}

func (p *wsPeer) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
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
		return "", false, fmt.Errorf("tool: mcp_ws: decode result: %w", err)
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

func (p *wsPeer) ReadResource(ctx context.Context, uri string) ([]attachment.Part, error) {
	resp, err := p.request(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool: mcp_ws: read resource %s: %s", uri, resp.Error.Message)
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
		return nil, fmt.Errorf("tool: mcp_ws: decode resource: %w", err)
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

func (p *wsPeer) Close() error { return p.conn.Close() }

// NewWebsocket builds the "mcp_ws" variant, connecting to the peer over a
// WebSocket (§4.3 mcp_{command,ws,shttp}).
func NewWebsocket(ctx context.Context, spec header.ToolSpec) ([]tool.Tool, error) {
	var cfg wsSpec
	if err := decodeSpec(spec, &cfg); err != nil {
		return nil, err
	}
	if cfg.MCPWS.URL == "" {
		return nil, fmt.Errorf("tool: mcp_ws: url is required")
	}
	peer, err := dialWS(cfg.MCPWS.URL)
	if err != nil {
		return nil, err
	}

	resp, err := peer.request(ctx, "tools/list", map[string]any{})
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("tool: mcp_ws: list tools: %w", err)
	}
	if resp.Error != nil {
		peer.Close()
		return nil, fmt.Errorf("tool: mcp_ws: list tools: %s", resp.Error.Message)
	}
	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		peer.Close()
		return nil, fmt.Errorf("tool: mcp_ws: decode tool list: %w", err)
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
