// Package settings is the configuration surface consumed by the core
// packages. Settings are loaded by the caller and passed in explicitly; no
// core component reads configuration from ambient state.
package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/prattle/pkg/inference"
	"github.com/go-go-golems/prattle/pkg/tokens"
)

const DefaultSystemPrompt = "You are a helpful assistant. Please respond politely and concisely."

// AgentMode selects between a hand-written system prompt and one rendered
// from the agent template fields.
type AgentMode string

const (
	AgentModeCustom   AgentMode = "custom"
	AgentModeTemplate AgentMode = "template"
)

type Settings struct {
	// Model settings
	ModelName   string  `yaml:"model_name" mapstructure:"model_name"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP        float64 `yaml:"top_p" mapstructure:"top_p"`

	// Server
	ServerURL      string        `yaml:"server_url" mapstructure:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	// System prompt
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt"`

	// Token limits
	MaxInputTokens        int `yaml:"max_input_tokens" mapstructure:"max_input_tokens"`
	MaxSystemPromptTokens int `yaml:"max_system_prompt_tokens" mapstructure:"max_system_prompt_tokens"`
	MaxContextTokens      int `yaml:"max_context_tokens" mapstructure:"max_context_tokens"`
	TokenPadding          int `yaml:"token_padding" mapstructure:"token_padding"`

	// Agent creator
	AgentMode            AgentMode `yaml:"agent_mode" mapstructure:"agent_mode"`
	AgentName            string    `yaml:"agent_name" mapstructure:"agent_name"`
	UserName             string    `yaml:"user_name" mapstructure:"user_name"`
	UserBackground       string    `yaml:"user_background" mapstructure:"user_background"`
	UserGoals            string    `yaml:"user_goals" mapstructure:"user_goals"`
	SelectedRole         string    `yaml:"selected_role" mapstructure:"selected_role"`
	SelectedPersonality  string    `yaml:"selected_personality" mapstructure:"selected_personality"`
	SelectedWritingStyle string    `yaml:"selected_writing_style" mapstructure:"selected_writing_style"`
}

func Default() *Settings {
	return &Settings{
		ModelName:   "llama2",
		Temperature: 0.7,
		TopP:        0.9,

		ServerURL:      "http://localhost:11434",
		RequestTimeout: 120 * time.Second,

		SystemPrompt: DefaultSystemPrompt,

		MaxInputTokens:        4000,
		MaxSystemPromptTokens: 1000,
		MaxContextTokens:      8000,
		TokenPadding:          200,

		AgentMode:            AgentModeCustom,
		AgentName:            "Assistant",
		UserName:             "User",
		SelectedRole:         "ASSISTANT",
		SelectedPersonality:  "FRIENDLY",
		SelectedWritingStyle: "CONCISE",
	}
}

func (s *Settings) Validate() error {
	if s.ModelName == "" {
		return errors.New("model_name must be set")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return errors.New("top_p must be in (0, 1]")
	}
	if s.AgentMode != AgentModeCustom && s.AgentMode != AgentModeTemplate {
		return errors.Errorf("agent_mode must be %q or %q", AgentModeCustom, AgentModeTemplate)
	}
	return s.Budget().Validate()
}

func (s *Settings) Budget() tokens.Budget {
	return tokens.Budget{
		MaxInputTokens:        s.MaxInputTokens,
		MaxSystemPromptTokens: s.MaxSystemPromptTokens,
		MaxContextTokens:      s.MaxContextTokens,
		TokenPadding:          s.TokenPadding,
	}
}

func (s *Settings) Options() inference.Options {
	return inference.Options{
		Temperature: s.Temperature,
		TopP:        s.TopP,
	}
}

// Load reads settings from a yaml file, applying defaults for anything the
// file does not set. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading settings")
	}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "parsing settings")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings to a yaml file, creating the directory when
// missing.
func (s *Settings) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "creating settings directory")
		}
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshalling settings")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "writing settings")
}
