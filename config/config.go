package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/docchat/errors"
	"gopkg.in/yaml.v3"
)

// Reference policies for "@name" tokens that do not resolve.
const (
	ReferencesReject = "reject"
	ReferencesKeep   = "keep"
)

const (
	DefaultMaxTokens         = 4096
	DefaultMaxToolRounds     = 10
	DefaultCompletionTimeout = 2 * time.Minute
	DefaultToolTimeout       = 30 * time.Second
	DefaultResourceURI       = "docs://documents"
)

// ToolHost describes how to start the MCP server that provides tools,
// resources and prompts.
type ToolHost struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	ResourceURI string   `yaml:"resource_uri"`
}

// Command binds a slash-command to a prompt on the tool host.
type Command struct {
	Name     string `yaml:"name"`
	Prompt   string `yaml:"prompt"`
	Argument string `yaml:"argument"`
	// ExpectsResource defaults to true; the argument must then name a known resource.
	ExpectsResource *bool `yaml:"expects_resource"`
}

// NeedsResource reports whether the command argument must be a resource id.
func (c Command) NeedsResource() bool {
	return c.ExpectsResource == nil || *c.ExpectsResource
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Documents configures the document tool host.
type Documents struct {
	Root    string   `yaml:"root"`
	Include []string `yaml:"include"`
	Hidden  []string `yaml:"hidden"`
}

type Config struct {
	LLMClient            string        `yaml:"llm"`
	Model                string        `yaml:"model"`
	MaxTokens            int64         `yaml:"max_tokens"`
	SystemPrompt         string        `yaml:"system_prompt"`
	ToolHost             ToolHost      `yaml:"tool_host"`
	Commands             []Command     `yaml:"commands"`
	MaxToolRounds        int           `yaml:"max_tool_rounds"`
	CompletionTimeout    time.Duration `yaml:"completion_timeout"`
	ToolTimeout          time.Duration `yaml:"tool_timeout"`
	ParallelTools        bool          `yaml:"parallel_tools"`
	UnresolvedReferences string        `yaml:"unresolved_references"`
	Toolsets             []Toolset     `yaml:"toolsets"`
	RenderMarkdown       bool          `yaml:"render_markdown"`
	Documents            Documents     `yaml:"documents"`
}

// DefaultCommands mirrors the prompts served by the document tool host.
func DefaultCommands() []Command {
	return []Command{
		{Name: "summarize", Prompt: "summarize", Argument: "doc_id"},
		{Name: "rewrite_markdown", Prompt: "rewrite_markdown", Argument: "doc_id"},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Environment overrides
// and defaults are applied last.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".docchat", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".docchat", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single config file and applies environment overrides and defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, so project-level
	// values replace user-level ones key by key.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DOCCHAT_LLM"); v != "" {
		c.LLMClient = v
	}
	if v := os.Getenv("DOCCHAT_MODEL"); v != "" {
		c.Model = v
	}
	if c.Model == "" {
		c.Model = os.Getenv("CLAUDE_MODEL")
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ToolHost.Command == "" {
		c.ToolHost.Command = "docserver"
	}
	if c.ToolHost.ResourceURI == "" {
		c.ToolHost.ResourceURI = DefaultResourceURI
	}
	if len(c.Commands) == 0 {
		c.Commands = DefaultCommands()
	}
	for i := range c.Commands {
		if c.Commands[i].Prompt == "" {
			c.Commands[i].Prompt = c.Commands[i].Name
		}
		if c.Commands[i].Argument == "" {
			c.Commands[i].Argument = "doc_id"
		}
	}
	if c.UnresolvedReferences == "" {
		c.UnresolvedReferences = ReferencesReject
	}
	if c.Documents.Root == "" {
		c.Documents.Root = "."
	}
	// The config directory never becomes a document.
	c.Documents.Hidden = appendMissing(c.Documents.Hidden, ".docchat", ".docchat/**")
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	switch c.UnresolvedReferences {
	case ReferencesReject, ReferencesKeep:
	default:
		return errors.New("unresolved_references must be '%s' or '%s', got '%s'", ReferencesReject, ReferencesKeep, c.UnresolvedReferences)
	}
	seen := make(map[string]bool)
	for _, cmd := range c.Commands {
		if cmd.Name == "" {
			return errors.New("command without a name")
		}
		if seen[cmd.Name] {
			return errors.New("command '%s' is defined twice", cmd.Name)
		}
		seen[cmd.Name] = true
	}
	return nil
}

// GetToolset finds a toolset by name. An empty name selects "default". When
// no toolsets are configured at all, nil is returned, meaning every tool the
// host provides is active.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}

// GetCommand finds a slash-command by name.
func (c *Config) GetCommand(name string) (Command, bool) {
	for _, cmd := range c.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

func appendMissing(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
