// Package mcp reads the workspace's MCP server table and exposes their
// resources over stdio JSON-RPC.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// ConfigName is the conventional server-list file, searched for upward from
// the working directory.
const ConfigName = ".mcp.json"

// Server describes how to launch one MCP server.
type Server struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd,omitempty"`
}

// Config is the loaded server table. A missing or invalid config file
// degrades to an empty table — callers always get a usable Config — but the
// swallowed cause is retained in LoadWarning for diagnostics instead of
// being discarded.
type Config struct {
	Path        string
	Servers     map[string]Server
	LoadWarning error
}

type configFile struct {
	MCPServers map[string]Server `json:"mcpServers"`
}

// FindConfig walks from start toward the filesystem root looking for
// ConfigName. When none exists it returns the path it would occupy in
// start, so a later load records a coherent warning.
func FindConfig(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return filepath.Join(start, ConfigName)
	}
	for {
		candidate := filepath.Join(dir, ConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join(start, ConfigName)
		}
		dir = parent
	}
}

// LoadConfig reads the server table at path. It never fails: problems are
// recorded as the LoadWarning on an otherwise empty Config.
func LoadConfig(path string) *Config {
	cfg := &Config{Path: path, Servers: map[string]Server{}}

	data, err := os.ReadFile(path)
	if err != nil {
		cfg.LoadWarning = fmt.Errorf("reading %s: %w", path, err)
		return cfg
	}

	var parsed configFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		cfg.LoadWarning = fmt.Errorf("parsing %s: %w", path, err)
		return cfg
	}

	for name, srv := range parsed.MCPServers {
		if srv.Command == "" {
			continue
		}
		cfg.Servers[name] = srv
	}
	return cfg
}

// ServerNames returns the configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
