// YAML config loader with CUE validation
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Database configures the SQLite store.
type Database struct {
	Path string `yaml:"path"`
}

// Server configures the HTTP API.
type Server struct {
	Port int `yaml:"port"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Export configures CSV output.
type Export struct {
	IncludeUnverified bool `yaml:"include_unverified"`
}

// Config is the root configuration
type Config struct {
	Database Database `yaml:"database"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Export   Export   `yaml:"export"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: Database{Path: "dslog.db"},
		Server:   Server{Port: 8080},
		Logging:  Logging{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file, validates it against the embedded CUE schema and
// overlays it on Default. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	return cfg, nil
}

// Validate checks a YAML document against the embedded schema. Unknown keys
// are rejected.
func Validate(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", err)
	}

	final := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
