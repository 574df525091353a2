package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	assert.Equal(t, "llama2", s.ModelName)
	assert.Equal(t, 4000, s.MaxInputTokens)
	assert.Equal(t, 8000, s.MaxContextTokens)
	assert.Equal(t, 200, s.TokenPadding)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty model", func(s *Settings) { s.ModelName = "" }},
		{"negative temperature", func(s *Settings) { s.Temperature = -0.1 }},
		{"top_p over one", func(s *Settings) { s.TopP = 1.5 }},
		{"unknown agent mode", func(s *Settings) { s.AgentMode = "chaotic" }},
		{"padding swallows context", func(s *Settings) { s.TokenPadding = s.MaxContextTokens }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestBudgetAndOptions(t *testing.T) {
	s := Default()

	budget := s.Budget()
	assert.Equal(t, s.MaxInputTokens, budget.MaxInputTokens)
	assert.Equal(t, s.MaxContextTokens, budget.MaxContextTokens)

	opts := s.Options()
	assert.Equal(t, s.Temperature, opts.Temperature)
	assert.Equal(t, s.TopP, opts.TopP)
}

func TestEffectiveSystemPromptCustomMode(t *testing.T) {
	s := Default()
	s.AgentMode = AgentModeCustom
	s.SystemPrompt = "answer in haiku"
	assert.Equal(t, "answer in haiku", s.EffectiveSystemPrompt())

	s.SystemPrompt = ""
	assert.Equal(t, DefaultSystemPrompt, s.EffectiveSystemPrompt())
}

func TestEffectiveSystemPromptTemplateMode(t *testing.T) {
	s := Default()
	s.AgentMode = AgentModeTemplate
	s.AgentName = "Marvin"
	s.UserName = "Arthur"
	s.UserBackground = "towel owner"
	s.SelectedRole = "GUIDE"

	prompt := s.EffectiveSystemPrompt()
	assert.Contains(t, prompt, "Your name is Marvin")
	assert.Contains(t, prompt, "GUIDE")
	assert.Contains(t, prompt, "Name: Arthur")
	assert.Contains(t, prompt, "Background: towel owner")
}

func TestEffectiveSystemPromptTemplateModeWithoutName(t *testing.T) {
	s := Default()
	s.AgentMode = AgentModeTemplate
	s.AgentName = ""
	s.UserName = ""
	s.UserBackground = ""
	s.UserGoals = ""

	prompt := s.EffectiveSystemPrompt()
	assert.Contains(t, prompt, "You are an AI assistant")
	assert.NotContains(t, prompt, "USER CONTEXT")
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	s := Default()
	s.ModelName = "mistral"
	s.Temperature = 0.3
	s.MaxContextTokens = 16000
	s.SystemPrompt = "be terse"
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral", loaded.ModelName)
	assert.Equal(t, 0.3, loaded.Temperature)
	assert.Equal(t, 16000, loaded.MaxContextTokens)
	assert.Equal(t, "be terse", loaded.SystemPrompt)
	assert.Equal(t, s.RequestTimeout, loaded.RequestTimeout)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_name: phi\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "phi", s.ModelName)
	assert.Equal(t, Default().MaxInputTokens, s.MaxInputTokens)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temperature: 9.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
