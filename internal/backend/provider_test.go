package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupProvider(t *testing.T) {
	p, err := LookupProvider("groq", "", "")
	require.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1", p.BaseURL)
	assert.Equal(t, "llama-3.1-70b-versatile", p.DefaultModel)

	p, err = LookupProvider("openai", "http://localhost:8080/v1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1", p.BaseURL)
	assert.Equal(t, "gpt-4o", p.DefaultModel)

	_, err = LookupProvider("ollama", "", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewClientRequiresKey(t *testing.T) {
	p, err := LookupProvider("groq", "", "")
	require.NoError(t, err)

	client, err := NewClient(p, "", time.Second)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	client, err = NewClient(p, "gsk-test", time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, client)
}
