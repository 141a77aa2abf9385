package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()

	assert.Equal(t, "default", m.Name)
	assert.NotEmpty(t, m.SystemPrompt)
	assert.Equal(t, "alloy", m.Voice)
	assert.Equal(t, 0.7, m.Temperature)
	assert.Equal(t, 1024, m.MaxTokens)
	assert.True(t, m.StreamAudio)
}

func TestLoaderLoad(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	t.Run("should load a complete manifest", func(t *testing.T) {
		path := writeManifest(t, `{
			"name": "raid-coach",
			"system_prompt": "You are a raid coach.",
			"voice": "verse",
			"temperature": 1.2,
			"max_tokens": 512,
			"stream_audio": false
		}`)

		manifest, err := loader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "raid-coach", manifest.Name)
		assert.Equal(t, "You are a raid coach.", manifest.SystemPrompt)
		assert.Equal(t, "verse", manifest.Voice)
		assert.Equal(t, 1.2, manifest.Temperature)
		assert.Equal(t, 512, manifest.MaxTokens)
		assert.False(t, manifest.StreamAudio)
	})

	t.Run("should fill absent fields from defaults", func(t *testing.T) {
		path := writeManifest(t, `{"name": "minimal", "system_prompt": "Short answers only."}`)

		manifest, err := loader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "minimal", manifest.Name)
		assert.Equal(t, "Short answers only.", manifest.SystemPrompt)
		assert.Equal(t, "alloy", manifest.Voice)
		assert.Equal(t, 0.7, manifest.Temperature)
		assert.Equal(t, 1024, manifest.MaxTokens)
		assert.True(t, manifest.StreamAudio)
	})

	t.Run("should reject an unknown voice", func(t *testing.T) {
		path := writeManifest(t, `{"voice": "robot"}`)

		_, err := loader.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation")
	})

	t.Run("should reject a mistyped field", func(t *testing.T) {
		path := writeManifest(t, `{"temperature": "hot"}`)

		_, err := loader.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation")
	})

	t.Run("should reject a temperature out of range", func(t *testing.T) {
		path := writeManifest(t, `{"temperature": 3.5}`)

		_, err := loader.Load(path)
		require.Error(t, err)
	})

	t.Run("should reject an explicit empty system prompt", func(t *testing.T) {
		path := writeManifest(t, `{"system_prompt": ""}`)

		_, err := loader.Load(path)
		require.Error(t, err)
	})

	t.Run("should reject max_tokens below one", func(t *testing.T) {
		path := writeManifest(t, `{"max_tokens": 0}`)

		_, err := loader.Load(path)
		require.Error(t, err)
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		path := writeManifest(t, `{not json`)

		_, err := loader.Load(path)
		require.Error(t, err)
	})

	t.Run("should error on a missing file", func(t *testing.T) {
		_, err := loader.Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read manifest file")
	})
}

func TestParseManifest(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{"name": "raw", "voice": "echo"}`))
	require.NoError(t, err)
	assert.Equal(t, "raw", manifest.Name)
	assert.Equal(t, "echo", manifest.Voice)
	assert.Zero(t, manifest.Temperature)
}
