// Package config loads the two-layer YAML configuration: a required base
// document deep-merged with an optional environment overlay, later keys
// winning. The merged tree is available both as a typed Config value that is
// passed explicitly into every constructor, and through dot-path lookup for
// ad-hoc keys.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gogentic/pkg/llmfactory"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/secorch", "config")

// AgentConfig supplies the name, instruction text and preferred model for
// one agent. The instructions are opaque to this code; all policy lives in
// them.
type AgentConfig struct {
	Name         string `json:"name" yaml:"name"`
	Instructions string `json:"instructions" yaml:"instructions"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
}

// ServerConfig supplies the launch command for one MCP tool-server process.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.WithStack(err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration: %q", s)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WorkflowConfig controls the pipeline run.
type WorkflowConfig struct {
	// Finalizer selects the last pipeline step: "aggregate" or "visualize".
	Finalizer string `json:"finalizer,omitempty" yaml:"finalizer,omitempty"`
	// QueryTimeout bounds one query's processing; zero means no bound.
	QueryTimeout Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty"`
	// Queries is the list of queries to process on startup.
	Queries []string `json:"queries,omitempty" yaml:"queries,omitempty"`
}

// Config is the merged, typed configuration. It is constructed once in main
// and passed into every component; there is no process-wide instance.
type Config struct {
	Agents     map[string]AgentConfig  `json:"agents" yaml:"agents"`
	MCPServers map[string]ServerConfig `json:"mcp_servers" yaml:"mcp_servers"`
	LLM        llmfactory.Config       `json:"llm" yaml:"llm"`
	Workflow   WorkflowConfig          `json:"workflow" yaml:"workflow"`

	env string
	raw map[string]any
}

// Load reads dir/base.yaml, deep-merges dir/<env>.yaml over it when present,
// expands ${VAR} references from the process environment, and unmarshals the
// result. A missing base document is a fatal configuration error.
func Load(dir, env string) (*Config, error) {
	base, err := loadTree(filepath.Join(dir, "base.yaml"))
	if err != nil {
		return nil, errors.WithMessage(err, "base configuration")
	}

	merged := base
	overlayPath := filepath.Join(dir, env+".yaml")
	if env != "" {
		overlay, err := loadTree(overlayPath)
		if err == nil {
			merged = Merge(base, overlay)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.WithMessagef(err, "overlay configuration %q", env)
		}
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		env: env,
		raw: merged,
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(bs))), cfg); err != nil {
		return nil, errors.WithMessage(err, "failed to parse configuration")
	}

	logger.KV(xlog.DEBUG,
		"status", "loaded_config",
		"dir", dir,
		"env", env,
		"agents", len(cfg.Agents),
		"mcp_servers", len(cfg.MCPServers),
	)
	return cfg, nil
}

func loadTree(path string) (map[string]any, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(bs, &tree); err != nil {
		return nil, errors.WithMessagef(err, "failed to parse %s", filepath.Base(path))
	}
	return tree, nil
}

// Merge deep-merges overlay over base and returns a new tree. Maps merge
// recursively; any other value, including nil, replaces the base value.
func Merge(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if bm, ok := result[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				result[k] = Merge(bm, om)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// Environment returns the environment name the configuration was loaded for.
func (c *Config) Environment() string {
	return c.env
}

// Get returns the value at the dot-separated path in the merged tree, or def
// when any segment is missing.
func (c *Config) Get(path string, def any) any {
	var cur any = c.raw
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[key]
		if !ok {
			return def
		}
	}
	return cur
}

// Agent returns the named agent configuration.
func (c *Config) Agent(key string) (AgentConfig, error) {
	ac, ok := c.Agents[key]
	if !ok {
		return AgentConfig{}, errors.Newf("agent not configured: %s", key)
	}
	return ac, nil
}

// Server returns the named MCP server configuration.
func (c *Config) Server(key string) (ServerConfig, error) {
	sc, ok := c.MCPServers[key]
	if !ok {
		return ServerConfig{}, errors.Newf("mcp server not configured: %s", key)
	}
	return sc, nil
}

// ValidateEnv verifies that every environment variable required by the
// configured LLM providers is present. It runs before any query processing;
// a missing variable is a fatal startup error, not a runtime fallback.
func (c *Config) ValidateEnv() error {
	for _, prov := range c.LLM.Providers {
		for _, name := range requiredEnv(prov.OpenAI.APIType) {
			if os.Getenv(name) == "" {
				return errors.Newf("%s environment variable is required for provider %q", name, prov.Name)
			}
		}
	}
	return nil
}

func requiredEnv(apiType string) []string {
	switch strings.ToUpper(apiType) {
	case "AZURE", "AZURE_AD":
		return []string{"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY"}
	case "OPENAI", "OPEN_AI":
		return []string{"OPENAI_API_KEY"}
	case "ANTHROPIC":
		return []string{"ANTHROPIC_API_KEY"}
	}
	return nil
}
