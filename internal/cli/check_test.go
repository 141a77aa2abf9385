package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voicegate.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCheckCommand(t *testing.T) {
	t.Run("should pass a sound config", func(t *testing.T) {
		path := writeConfig(t, `{
			"upstream": {"openai": {"api_key": "sk-test123456789"}}
		}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"check", "--config", path})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "Configuration OK")
	})

	t.Run("should fail without the openai key", func(t *testing.T) {
		path := writeConfig(t, `{}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"check", "--config", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		assert.ErrorContains(t, err, "openai api_key is required")
	})

	t.Run("should warn on a suspicious key format", func(t *testing.T) {
		path := writeConfig(t, `{
			"upstream": {"openai": {"api_key": "not-an-openai-key"}}
		}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"check", "--config", path})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "warning:")
		assert.Contains(t, output.String(), "Configuration OK")
	})

	t.Run("should fail on unreadable JSON", func(t *testing.T) {
		path := writeConfig(t, `{broken`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"check", "--config", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		assert.ErrorContains(t, err, "failed to load config")
	})
}

func TestServeCommandValidation(t *testing.T) {
	t.Run("should refuse an invalid configuration", func(t *testing.T) {
		path := writeConfig(t, `{
			"limits": {"messages_per_minute": -1}
		}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve", "--config", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		assert.ErrorContains(t, err, "invalid configuration")
	})
}
