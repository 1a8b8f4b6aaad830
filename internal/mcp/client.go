package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Resource is one entry from a server's resources/list response.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Client connects to configured MCP servers over stdio, one short-lived
// session per call. Servers here are local helper processes; keeping a
// session open between panel interactions buys nothing.
type Client struct {
	cfg *Config
}

// NewClient creates a client over a loaded server table.
func NewClient(cfg *Config) *Client {
	return &Client{cfg: cfg}
}

// ListResources launches the named server and lists its resources.
func (c *Client) ListResources(ctx context.Context, server string) ([]Resource, error) {
	var resources []Resource
	err := c.withSession(ctx, server, func(s *session) error {
		var result struct {
			Resources []Resource `json:"resources"`
		}
		if err := s.call("resources/list", map[string]any{}, &result); err != nil {
			return err
		}
		resources = result.Resources
		return nil
	})
	return resources, err
}

// ReadResource launches the named server and reads one resource. Text parts
// are concatenated; binary parts are summarized by size.
func (c *Client) ReadResource(ctx context.Context, server, uri string) (string, error) {
	var text string
	err := c.withSession(ctx, server, func(s *session) error {
		var result struct {
			Contents []struct {
				Text string `json:"text"`
				Blob string `json:"blob"`
			} `json:"contents"`
		}
		if err := s.call("resources/read", map[string]any{"uri": uri}, &result); err != nil {
			return err
		}
		var parts []string
		for _, content := range result.Contents {
			switch {
			case content.Text != "":
				parts = append(parts, content.Text)
			case content.Blob != "":
				parts = append(parts, fmt.Sprintf("[binary data: %d bytes]", len(content.Blob)))
			}
		}
		text = strings.Join(parts, "\n")
		return nil
	})
	return text, err
}

// withSession spawns the server process, performs the initialize handshake,
// runs fn, and tears the process down.
func (c *Client) withSession(ctx context.Context, server string, fn func(*session) error) error {
	srv, ok := c.cfg.Servers[server]
	if !ok {
		return fmt.Errorf("server %q not configured", server)
	}

	cmd := exec.CommandContext(ctx, srv.Command, srv.Args...)
	if srv.Cwd != "" {
		cmd.Dir = srv.Cwd
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", srv.Command, err)
	}
	defer func() {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	s := &session{
		enc:     json.NewEncoder(stdin),
		scanner: bufio.NewScanner(stdout),
	}
	s.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if err := s.initialize(); err != nil {
		return fmt.Errorf("initializing %s: %w", server, err)
	}
	return fn(s)
}

// session is one stdio JSON-RPC exchange: newline-delimited messages,
// requests answered in order.
type session struct {
	enc     *json.Encoder
	scanner *bufio.Scanner
	nextID  int
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (s *session) initialize() error {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "vigil", "version": "1.0"},
	}
	if err := s.call("initialize", params, nil); err != nil {
		return err
	}
	return s.enc.Encode(rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
}

// call sends one request and waits for its response, skipping any
// notifications the server interleaves.
func (s *session) call(method string, params any, result any) error {
	s.nextID++
	id := s.nextID
	if err := s.enc.Encode(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	}
	if err := s.scanner.Err(); err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	return io.ErrUnexpectedEOF
}
