package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"lectic/pkg/header"
)

// serveSpec is the "serve" variant's own fields: a named set of resources
// (inline text or a path to read from disk) exposed over a transient HTTP
// listener, one file per path, plus the uniform name/description/usage.
type serveSpec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Usage       string            `yaml:"usage"`
	Resources   map[string]string `yaml:"resources"`
	Paths       map[string]string `yaml:"paths"`
}

type serveArgs struct {
	Resource string `json:"resource"`
}

// serve stands up a transient HTTP service exposing a fixed set of named
// resources (§4.3: "deliver the requested resource"). The listener is
// started once at construction and torn down by Close; Call answers with
// the resource's content directly rather than requiring the model to make
// a second network hop, while the listener remains available for peers
// that do want to fetch it over HTTP.
type serve struct {
	Base

	mu        sync.RWMutex
	resources map[string]string
	paths     map[string]string
	listener  net.Listener
	baseURL   string
	watcher   *fsnotify.Watcher
}

// NewServe builds the "serve" variant and starts its listener immediately.
func NewServe(ctx context.Context, spec header.ToolSpec) ([]Tool, error) {
	var cfg serveSpec
	if err := spec.Node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tool: serve: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "serve"
	}
	description := cfg.Description
	if description == "" {
		description = "Fetch one of this tool's named resources."
	}

	resources := map[string]string{}
	for k, v := range cfg.Resources {
		resources[k] = v
	}
	for k, path := range cfg.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("tool: serve: read resource %q: %w", k, err)
		}
		resources[k] = string(data)
	}

	names := make([]string, 0, len(resources))
	for k := range resources {
		names = append(names, k)
	}

	s := &serve{resources: resources, paths: cfg.Paths}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("tool: serve: listen: %w", err)
	}
	s.listener = ln
	s.baseURL = "http://" + ln.Addr().String()

	if len(cfg.Paths) > 0 {
		if w, err := fsnotify.NewWatcher(); err == nil {
			s.watcher = w
			for _, path := range cfg.Paths {
				_ = w.Add(path)
			}
			go s.watchPaths()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	go http.Serve(ln, mux)

	base, err := NewBase(name, description, cfg.Usage, map[string]any{
		"resource": map[string]any{
			"type":        "string",
			"description": "the resource name to fetch",
			"enum":        names,
		},
	}, []string{"resource"})
	if err != nil {
		ln.Close()
		return nil, err
	}
	s.Base = base
	return []Tool{s}, nil
}

func (s *serve) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	body, ok := s.resources[r.URL.Path[1:]]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(body))
}

// watchPaths reloads a path-backed resource's cached content whenever its
// backing file is written, so a long-lived "serve" tool reflects edits
// made to the underlying file without the interlocutor's process
// restarting.
func (s *serve) watchPaths() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			for name, path := range s.paths {
				if path != ev.Name {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				s.mu.Lock()
				s.resources[name] = string(data)
				s.mu.Unlock()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close shuts down the transient listener and any path watcher.
func (s *serve) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *serve) Call(ctx context.Context, args []byte) ([]Result, error) {
	var a serveArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("tool: serve: %w", err)
		}
	}
	s.mu.RLock()
	body, ok := s.resources[a.Resource]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool: serve: unknown resource %q", a.Resource)
	}
	return []Result{{Text: body, Mimetype: "text/plain"}}, nil
}
