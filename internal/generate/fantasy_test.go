package generate

import (
	"testing"

	"charm.land/fantasy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Name: ProviderOpenAI})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api key is required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Name: "gemini", APIKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown provider "gemini"`)
	})

	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(ProviderConfig{Name: name, APIKey: "test-key"})
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}

func TestNewFantasyGenerator(t *testing.T) {
	_, err := NewFantasyGenerator(FantasyConfig{Model: "gpt-4.1-mini"})
	assert.Error(t, err)

	p, err := NewProvider(ProviderConfig{Name: ProviderOpenAI, APIKey: "test-key"})
	require.NoError(t, err)

	_, err = NewFantasyGenerator(FantasyConfig{Provider: p})
	assert.Error(t, err)

	g, err := NewFantasyGenerator(FantasyConfig{Provider: p, Model: "gpt-4.1-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", g.Model())
	assert.Equal(t, int64(1000), g.maxTokens)
}

func TestToPrompt(t *testing.T) {
	prompt := toPrompt([]Message{
		{Role: RoleSystem, Content: "expert"},
		{Role: RoleUser, Content: "optimize"},
		{Role: RoleAssistant, Content: "* NaMnO2"},
		{Role: RoleUser, Content: "again"},
	})

	require.Len(t, prompt, 4)
	assert.Equal(t, fantasy.MessageRoleSystem, prompt[0].Role)
	assert.Equal(t, fantasy.MessageRoleUser, prompt[1].Role)
	assert.Equal(t, fantasy.MessageRoleAssistant, prompt[2].Role)
	assert.Equal(t, fantasy.MessageRoleUser, prompt[3].Role)
}
