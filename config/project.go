package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultProjectFile is the project file read by the CLI.
const DefaultProjectFile = "faunagate.json"

// ErrUnknownStage is returned for a stage missing from the project file.
var ErrUnknownStage = errors.New("unknown stage")

// ProjectFile maps deployment stages to backend secrets, buckets and
// senders. It is JSON; the YAML decoder reads it as is.
type ProjectFile struct {
	Name    string                 `yaml:"name" json:"name"`
	APIType string                 `yaml:"api_type" json:"api_type"`
	Email   string                 `yaml:"email" json:"email"`
	Stages  map[string]StageConfig `yaml:"stages" json:"stages"`
}

// StageConfig is one deployment stage.
type StageConfig struct {
	FaunaSecret      string `yaml:"fauna_secret" json:"fauna_secret"`
	Bucket           string `yaml:"bucket" json:"bucket"`
	DefaultFromEmail string `yaml:"default_from_email" json:"default_from_email"`
}

// LoadProject reads a project file. Environment variables are expanded.
func LoadProject(path string) (*ProjectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var p ProjectFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	if p.Name == "" {
		return nil, errors.New("project name is required")
	}
	if p.APIType == "" {
		p.APIType = "rest"
	}
	return &p, nil
}

// Stage returns the named stage. The stage's sender falls back to the
// project email.
func (p *ProjectFile) Stage(name string) (StageConfig, error) {
	s, ok := p.Stages[name]
	if !ok {
		return StageConfig{}, fmt.Errorf("%w %q, have %v", ErrUnknownStage, name, p.StageNames())
	}
	if s.DefaultFromEmail == "" {
		s.DefaultFromEmail = p.Email
	}
	return s, nil
}

// StageNames returns the stage names in order.
func (p *ProjectFile) StageNames() []string {
	names := make([]string, 0, len(p.Stages))
	for name := range p.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply points cfg at the stage's backend and sender.
func (s StageConfig) Apply(cfg *Config) {
	if s.FaunaSecret != "" {
		cfg.Backend.Secret = s.FaunaSecret
	}
	if s.DefaultFromEmail != "" && cfg.Email.From == "" {
		cfg.Email.From = s.DefaultFromEmail
	}
}

// LoadStage loads the runtime config like LoadWithFallback, applying the
// stage before validation so the stage may supply the backend secret.
func LoadStage(path string, stage StageConfig) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return load(path, &stage)
		}
	}
	return loadEnv(&stage)
}
