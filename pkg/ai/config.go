package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig defines the configuration for a single LLM.
type ModelConfig struct {
	Name        string  `json:"name" yaml:"name"`                             // e.g., "default", "gpt-4o"
	Provider    string  `json:"provider" yaml:"provider"`                     // "openai", "anthropic", "google"
	APIKey      string  `json:"api_key" yaml:"api_key"`                       // Environment variable reference (env:NAME) or direct key
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Optional: for custom endpoints
	ModelName   string  `json:"model_name" yaml:"model_name"`                 // The specific model ID
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`                 // Max output tokens
	Temperature float64 `json:"temperature" yaml:"temperature"`               // Creativity
}

// Config holds the global AI configuration.
type Config struct {
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	HistoryLimit int           `json:"history_limit,omitempty" yaml:"history_limit,omitempty"` // 会话中保留的最近消息条数
	Models       []ModelConfig `json:"models" yaml:"models"`
}

// LoadConfig reads and parses the configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.DefaultModel == "" && len(cfg.Models) > 0 {
		cfg.DefaultModel = cfg.Models[0].Name
	}

	return &cfg, nil
}

// Model 按名称查找模型配置。
func (c *Config) Model(name string) (ModelConfig, bool) {
	if c == nil {
		return ModelConfig{}, false
	}
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}
