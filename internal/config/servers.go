package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBranch is used when a server entry does not name a branch.
	DefaultBranch = "default"
	// DefaultAvailableMiB is the code quota assumed when configs.available_mb is absent.
	DefaultAvailableMiB = 5.0
)

// File is the unified .screeps.yaml document. Keys other than servers and configs are ignored.
// A server key with a null value decodes to a nil entry and counts as not configured.
type File struct {
	Servers map[string]*ServerEntry `yaml:"servers"`
	Configs Configs                `yaml:"configs"`
}

// ServerEntry describes one server under the servers key: where it lives, how to
// authenticate and which branch receives the code.
type ServerEntry struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Secure   bool   `yaml:"secure"`
	Path     string `yaml:"path"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Branch   string `yaml:"branch"`
}

// Configs holds the tool-wide settings under the configs key.
type Configs struct {
	AvailableMB float64 `yaml:"available_mb"`
}

// ServerConfig is the resolved target of a deploy run.
type ServerConfig struct {
	Name         string
	Branch       string
	AvailableMiB float64
	Server       ServerEntry
}

// LoadFile reads and parses the YAML file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return ParseFile(data)
}

// ParseFile parses a .screeps.yaml document.
func ParseFile(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &file, nil
}

// Resolve returns the settings for the named server, applying the branch and quota
// defaults. It returns an error wrapping ErrServerNotFound when the server is not listed.
func (f *File) Resolve(name string) (ServerConfig, error) {
	entry := f.Servers[name]
	if entry == nil {
		return ServerConfig{}, fmt.Errorf("%w %q", ErrServerNotFound, name)
	}

	branch := entry.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	available := f.Configs.AvailableMB
	if available <= 0 {
		available = DefaultAvailableMiB
	}

	return ServerConfig{
		Name:         name,
		Branch:       branch,
		AvailableMiB: available,
		Server:       *entry,
	}, nil
}
