// Package config loads the quartet configuration file: data directory,
// store backend, retry policy, per-role agent commands, and named
// workflow definitions. Missing fields fall back to defaults, so an
// absent config file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/role"
	"github.com/quartet-sh/quartet/workflow"
)

// Store backend names accepted in the config file.
const (
	StoreFS     = "fs"
	StoreSQLite = "sqlite"
)

// DefaultWorkflow is the built-in four-role workflow used when the
// config file does not define one under this name.
const DefaultWorkflow = "code-change"

// Duration wraps time.Duration with YAML support for strings like
// "1s" or "500ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Agent is the external command executed for one role.
type Agent struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// Step is one entry of a workflow definition in the config file.
type Step struct {
	Role        string `yaml:"role"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Config is the full quartet configuration.
type Config struct {
	// DataDir is where run state lives. Defaults to ~/.quartet, or
	// QUARTET_DATA_DIR when set.
	DataDir string `yaml:"data_dir"`

	// Store selects the run store backend: "fs" or "sqlite".
	Store string `yaml:"store"`

	// MaxRetries is the number of retries after a step's first failed
	// attempt.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay between attempts; attempt n waits
	// n * RetryDelay, capped at MaxRetryDelay.
	RetryDelay    Duration `yaml:"retry_delay"`
	MaxRetryDelay Duration `yaml:"max_retry_delay"`

	// Agents binds each role to its command. All four roles must be
	// bound; the defaults run the "claude" CLI for every role.
	Agents map[string]Agent `yaml:"agents"`

	// Workflows are named step sequences available to `quartet run`.
	Workflows map[string][]Step `yaml:"workflows"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dataDir := os.Getenv("QUARTET_DATA_DIR")
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".quartet")
		} else {
			dataDir = ".quartet"
		}
	}

	base := quartet.DefaultConfig()
	agents := make(map[string]Agent, len(role.All()))
	for _, r := range role.All() {
		agents[string(r)] = Agent{Command: "claude", Args: []string{"-p"}}
	}

	return &Config{
		DataDir:       dataDir,
		Store:         StoreFS,
		MaxRetries:    base.MaxRetries,
		RetryDelay:    Duration(base.RetryDelay),
		MaxRetryDelay: Duration(base.MaxRetryDelay),
		Agents:        agents,
		Workflows: map[string][]Step{
			DefaultWorkflow: {
				{Role: string(role.Planner), Name: "plan", Description: "produce an implementation plan"},
				{Role: string(role.Builder), Name: "build", Description: "apply the planned change"},
				{Role: string(role.Verifier), Name: "verify", Description: "run lint, typecheck, and tests"},
				{Role: string(role.Reviewer), Name: "review", Description: "review the change and record findings"},
			},
		},
	}
}

// Load reads the config file at path, layered over Default. A missing
// file yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// fileConfig mirrors Config with pointer scalars so that merge can
// tell an absent key from an explicit zero: "max_retries: 0" is a
// valid retry budget, not a request for the default.
type fileConfig struct {
	DataDir       *string           `yaml:"data_dir"`
	Store         *string           `yaml:"store"`
	MaxRetries    *int              `yaml:"max_retries"`
	RetryDelay    *Duration         `yaml:"retry_delay"`
	MaxRetryDelay *Duration         `yaml:"max_retry_delay"`
	Agents        map[string]Agent  `yaml:"agents"`
	Workflows     map[string][]Step `yaml:"workflows"`
}

// merge overlays the fields present in the file onto c. Agent and
// workflow maps merge by key, so a config file can override one role's
// agent without restating the others.
func (c *Config) merge(file *fileConfig) {
	if file.DataDir != nil {
		c.DataDir = *file.DataDir
	}
	if file.Store != nil {
		c.Store = *file.Store
	}
	if file.MaxRetries != nil {
		c.MaxRetries = *file.MaxRetries
	}
	if file.RetryDelay != nil {
		c.RetryDelay = *file.RetryDelay
	}
	if file.MaxRetryDelay != nil {
		c.MaxRetryDelay = *file.MaxRetryDelay
	}
	for name, agent := range file.Agents {
		c.Agents[name] = agent
	}
	for name, steps := range file.Workflows {
		c.Workflows[name] = steps
	}
}

// Validate checks backend, retry policy, agent bindings, and every
// workflow definition.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFS, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store, StoreFS, StoreSQLite)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be >= 0, got %s", time.Duration(c.RetryDelay))
	}

	for _, r := range role.All() {
		agent, ok := c.Agents[string(r)]
		if !ok || agent.Command == "" {
			return fmt.Errorf("no agent command for role %q", r)
		}
	}
	for name := range c.Agents {
		if !role.Role(name).Valid() {
			return fmt.Errorf("agent %q bound to unknown role", name)
		}
	}

	for name := range c.Workflows {
		if _, err := c.Definition(name); err != nil {
			return err
		}
	}
	return nil
}

// Definition converts the named workflow into an engine definition.
func (c *Config) Definition(name string) (workflow.Definition, error) {
	steps, ok := c.Workflows[name]
	if !ok {
		return workflow.Definition{}, fmt.Errorf("workflow %q not defined", name)
	}

	def := workflow.Definition{
		Name:  name,
		Steps: make([]workflow.StepSpec, 0, len(steps)),
	}
	for _, s := range steps {
		def.Steps = append(def.Steps, workflow.StepSpec{
			Role:        role.Role(s.Role),
			Name:        s.Name,
			Description: s.Description,
		})
	}
	if err := def.Validate(); err != nil {
		return workflow.Definition{}, err
	}
	return def, nil
}

// Engine returns the retry settings as an engine config.
func (c *Config) Engine() quartet.Config {
	return quartet.Config{
		MaxRetries:    c.MaxRetries,
		RetryDelay:    time.Duration(c.RetryDelay),
		MaxRetryDelay: time.Duration(c.MaxRetryDelay),
	}
}

// RunsDir is where the fs store keeps run documents.
func (c *Config) RunsDir() string { return filepath.Join(c.DataDir, "runs") }

// DBPath is the sqlite store's database file.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "quartet.db") }

// ArtifactsDir is where role agents write their outputs for a run.
func (c *Config) ArtifactsDir(runID string) string {
	return filepath.Join(c.DataDir, "artifacts", runID)
}

// EnsureDataDir creates the data directory tree.
func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.RunsDir(), filepath.Join(c.DataDir, "artifacts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}
