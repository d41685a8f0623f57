package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCallStackSize matches gopher-lua's own default.
	DefaultCallStackSize = 256

	// DefaultRegistrySize matches gopher-lua's own default.
	DefaultRegistrySize = 256 * 20

	// DefaultInstanceName is used when admin.instance is omitted
	DefaultInstanceName = "default"

	// MaxNameLength is the maximum length for an instance name
	MaxNameLength = 63
)

// NamePattern is the pattern for valid instance names: lowercase alphanumeric, hyphens
// allowed but not at the start or end
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// WarrenConfig represents the top-level warren.yml configuration
type WarrenConfig struct {
	Version string         `yaml:"version"`
	Scripts ScriptsConfig  `yaml:"scripts"`
	Runtime *RuntimeConfig `yaml:"runtime,omitempty"`
	Cache   *CacheConfig   `yaml:"cache,omitempty"`
	Admin   *AdminConfig   `yaml:"admin,omitempty"`
}

// ScriptsConfig locates the script tree
type ScriptsConfig struct {
	Root         string   `yaml:"root"`                    // Required: directory scanned by the authority
	RequirePaths []string `yaml:"require_paths,omitempty"` // Extra directories for require()
	Transpiler   []string `yaml:"transpiler,omitempty"`    // Command for .moon files, e.g. ["moonc", "--"]
}

// RuntimeConfig tunes every interpreter
type RuntimeConfig struct {
	Compatibility bool `yaml:"compatibility,omitempty"` // Run every partition in the authority's interpreter
	CallStackSize *int `yaml:"call_stack_size,omitempty"`
	RegistrySize  *int `yaml:"registry_size,omitempty"`
}

// CacheConfig configures the bytecode cache
type CacheConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"` // bbolt file; empty keeps the cache in memory only
}

// AdminConfig configures the operator command channel
type AdminConfig struct {
	Instance string `yaml:"instance,omitempty"` // Channel namespace, default "default"
}

// Validate performs strict validation on the configuration and applies defaults
func (c *WarrenConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: scripts.root, and it must be a directory
	if c.Scripts.Root == "" {
		return fmt.Errorf("scripts.root is required")
	}
	info, err := os.Stat(c.Scripts.Root)
	if os.IsNotExist(err) {
		return fmt.Errorf("scripts.root does not exist: %s", c.Scripts.Root)
	} else if err != nil {
		return fmt.Errorf("failed to stat scripts.root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scripts.root is not a directory: %s", c.Scripts.Root)
	}

	for _, p := range c.Scripts.RequirePaths {
		if p == "" {
			return fmt.Errorf("scripts.require_paths must not contain empty entries")
		}
	}

	// Apply runtime defaults
	if c.Runtime == nil {
		c.Runtime = &RuntimeConfig{}
	}
	if c.Runtime.CallStackSize == nil {
		size := DefaultCallStackSize
		c.Runtime.CallStackSize = &size
	}
	if c.Runtime.RegistrySize == nil {
		size := DefaultRegistrySize
		c.Runtime.RegistrySize = &size
	}
	if *c.Runtime.CallStackSize < 1 {
		return fmt.Errorf("runtime.call_stack_size must be >= 1, got %d", *c.Runtime.CallStackSize)
	}
	if *c.Runtime.RegistrySize < 1 {
		return fmt.Errorf("runtime.registry_size must be >= 1, got %d", *c.Runtime.RegistrySize)
	}

	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}

	// Apply admin defaults
	if c.Admin == nil {
		c.Admin = &AdminConfig{}
	}
	if c.Admin.Instance == "" {
		c.Admin.Instance = DefaultInstanceName
	}
	if err := ValidateInstanceName(c.Admin.Instance); err != nil {
		return fmt.Errorf("admin.instance: %w", err)
	}

	return nil
}

// ValidateInstanceName checks that name can namespace admin channels
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max %d)", len(name), MaxNameLength)
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Load reads and validates warren.yml from the specified path. Relative paths in the
// file are resolved against the file's directory.
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	config.Scripts.Root = resolve(base, config.Scripts.Root)
	for i, p := range config.Scripts.RequirePaths {
		config.Scripts.RequirePaths[i] = resolve(base, p)
	}
	if config.Cache != nil {
		config.Cache.PersistPath = resolve(base, config.Cache.PersistPath)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
