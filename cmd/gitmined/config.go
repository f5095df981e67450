package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gitmine/gitmine/internal/tooling"
)

type Config struct {
	Listen    string                `mapstructure:"listen" yaml:"listen"`
	OutputDir string                `mapstructure:"output_dir" yaml:"output_dir"`
	AuditLog  string                `mapstructure:"audit_log" yaml:"audit_log"`
	WorkDir   string                `mapstructure:"work_dir" yaml:"work_dir"`
	Verbose   bool                  `mapstructure:"verbose" yaml:"verbose"`
	Tools     map[string]ToolConfig `mapstructure:"tools" yaml:"tools"`
}

type ToolConfig struct {
	Path string   `mapstructure:"path" yaml:"path"`
	Args []string `mapstructure:"args" yaml:"args,omitempty"`
	Env  []string `mapstructure:"env" yaml:"env,omitempty"`
}

// Programs converts the configured tools into the catalog's program map.
func (c Config) Programs() map[string]tooling.Program {
	programs := make(map[string]tooling.Program, len(c.Tools))
	for name, t := range c.Tools {
		programs[name] = tooling.Program{Path: t.Path, Args: t.Args, Env: t.Env}
	}
	return programs
}

func DefaultConfig() Config {
	return Config{
		Listen:    "127.0.0.1:8000",
		OutputDir: "output",
		AuditLog:  "audit-log.jsonl",
		Tools: map[string]ToolConfig{
			tooling.FileCommitHistory: {
				Path: "python3",
				Args: []string{"-u", "file-commit-history.py"},
				Env:  []string{"PYTHONUNBUFFERED=1"},
			},
			tooling.PullRequestExtractor: {
				Path: "python3",
				Args: []string{"-u", "pull-request-extractor.py"},
				Env:  []string{"PYTHONUNBUFFERED=1"},
			},
		},
	}
}

// LoadConfig reads a yaml config file through viper.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig stores cfg as yaml, creating parent directories.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}
