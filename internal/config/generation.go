package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// GenerationDefaults is the free-form generation configuration handed to
// workers with each queued task: which model/provider to run and which
// credentials to use. Loaded from an optional YAML file so deployments can
// swap providers without code changes.
type GenerationDefaults struct {
	Model                string `yaml:"model" json:"model,omitempty"`
	Provider             string `yaml:"provider" json:"provider,omitempty"`
	APIKey               string `yaml:"api_key" json:"apiKey,omitempty"`
	SerperAPIKey         string `yaml:"serper_api_key" json:"serperApiKey,omitempty"`
	IncludeIllustrations bool   `yaml:"include_illustrations" json:"includeIllustrations,omitempty"`
}

// LoadGenerationDefaults reads generation defaults from the given YAML file.
// An empty path returns defaults populated from environment variables only.
// Credentials set in the environment always win over file values.
func LoadGenerationDefaults(path string) (*GenerationDefaults, error) {
	defaults := &GenerationDefaults{
		Model:    "gemini-2.0-flash",
		Provider: "google",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read generation config: %w", err)
		}
		if err := yaml.Unmarshal(data, defaults); err != nil {
			return nil, fmt.Errorf("failed to parse generation config: %w", err)
		}
	}

	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		defaults.APIKey = v
	}
	if v := os.Getenv("SERPER_API_KEY"); v != "" {
		defaults.SerperAPIKey = v
	}

	return defaults, nil
}
