package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// ServerConfig describes how to launch one backend.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// MCPConfig is the mcpServers file shared with other MCP clients.
type MCPConfig struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// Scope represents where the MCP config is stored
type Scope string

const (
	ScopeUser    Scope = "user"    // ~/.config/mcpchat/mcp.json
	ScopeProject Scope = "project" // .mcp.json in the working directory
)

// GetConfigPath returns the path to the MCP config file for the given scope
func GetConfigPath(scope Scope) (string, error) {
	switch scope {
	case ScopeUser:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "mcpchat", "mcp.json"), nil
	case ScopeProject:
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return filepath.Join(cwd, ".mcp.json"), nil
	default:
		return "", fmt.Errorf("unknown scope: %s", scope)
	}
}

// ValidateServerID reports whether id can name a backend. Ids become the
// prefix of qualified capability names so they must not contain the
// separator.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("server id is empty")
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("server id %q must not contain %q", id, Separator)
	}
	return nil
}

// Validate checks every server entry.
func (c *MCPConfig) Validate() error {
	for id, server := range c.MCPServers {
		if err := ValidateServerID(id); err != nil {
			return err
		}
		if server.Command == "" {
			return fmt.Errorf("server %q: command is required", id)
		}
	}
	return nil
}

// Enabled returns the ids of servers that are not disabled, sorted.
func (c *MCPConfig) Enabled() []string {
	ids := make([]string, 0, len(c.MCPServers))
	for id, server := range c.MCPServers {
		if !server.Disabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// LoadConfig loads MCP configuration from a file. Comments and trailing
// commas are allowed. A missing file yields an empty config.
func LoadConfig(path string) (*MCPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &MCPConfig{MCPServers: make(map[string]ServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config MCPConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if config.MCPServers == nil {
		config.MCPServers = make(map[string]ServerConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &config, nil
}

// SaveConfig saves MCP configuration to a file
func SaveConfig(path string, config *MCPConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadAllConfigs merges the user and project configs; project entries
// override user entries with the same id. An explicit path, when given, is
// loaded last and wins over both.
func LoadAllConfigs(explicit string) (*MCPConfig, error) {
	merged := &MCPConfig{MCPServers: make(map[string]ServerConfig)}

	var paths []string
	for _, scope := range []Scope{ScopeUser, ScopeProject} {
		path, err := GetConfigPath(scope)
		if err != nil {
			continue
		}
		paths = append(paths, path)
	}
	if explicit != "" {
		paths = append(paths, explicit)
	}

	for _, path := range paths {
		config, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		for name, server := range config.MCPServers {
			merged.MCPServers[name] = server
		}
	}

	return merged, nil
}

// AddServer adds a server to the config file at path.
func AddServer(path, name string, server ServerConfig) error {
	if err := ValidateServerID(name); err != nil {
		return err
	}
	if server.Command == "" {
		return fmt.Errorf("server %q: command is required", name)
	}

	config, err := LoadConfig(path)
	if err != nil {
		return err
	}

	config.MCPServers[name] = server
	return SaveConfig(path, config)
}

// RemoveServer removes a server from the config file at path.
func RemoveServer(path, name string) error {
	config, err := LoadConfig(path)
	if err != nil {
		return err
	}

	if _, exists := config.MCPServers[name]; !exists {
		return fmt.Errorf("server %q not found in %s", name, path)
	}

	delete(config.MCPServers, name)
	return SaveConfig(path, config)
}
