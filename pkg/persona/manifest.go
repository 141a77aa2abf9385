package persona

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// allowedVoices lists the synthesis voices the speech provider accepts
var allowedVoices = map[string]bool{
	"alloy":   true,
	"echo":    true,
	"shimmer": true,
	"ash":     true,
	"ballad":  true,
	"coral":   true,
	"sage":    true,
	"verse":   true,
}

// Manifest describes a persona: the prompt, voice, and generation knobs
// applied to every session created while it is active.
type Manifest struct {
	Name         string  `json:"name"`
	SystemPrompt string  `json:"system_prompt"`
	Voice        string  `json:"voice"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	StreamAudio  bool    `json:"stream_audio"`
}

// DefaultManifest returns the built-in persona used when no manifest file
// is configured. Fields absent from a loaded manifest keep these values.
func DefaultManifest() Manifest {
	return Manifest{
		Name:         "default",
		SystemPrompt: "You are a helpful gaming assistant. Keep replies short and conversational; they are spoken aloud to the player.",
		Voice:        "alloy",
		Temperature:  0.7,
		MaxTokens:    1024,
		StreamAudio:  true,
	}
}

// Loader loads and validates persona manifests
type Loader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewLoader creates a new manifest loader
func NewLoader(logger zerolog.Logger) *Loader {
	schemaLoader := gojsonschema.NewStringLoader(ManifestSchema)
	return &Loader{
		logger:       logger.With().Str("component", "persona-loader").Logger(),
		schemaLoader: schemaLoader,
	}
}

// Load loads and validates a persona manifest from a file. Fields the file
// does not set are filled from DefaultManifest.
func (l *Loader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	// Validate against JSON schema before decoding
	if err := l.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	manifest := DefaultManifest()
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	// Additional validation
	if err := l.validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	l.logger.Debug().
		Str("name", manifest.Name).
		Str("voice", manifest.Voice).
		Msg("Loaded persona manifest")

	return &manifest, nil
}

// validateSchema validates the manifest against the JSON schema
func (l *Loader) validateSchema(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(l.schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		// Collect all validation errors
		var errMsg string
		for i, err := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += err.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}

	return nil
}

// validateManifest performs additional validation beyond JSON schema
func (l *Loader) validateManifest(manifest *Manifest) error {
	if manifest.SystemPrompt == "" {
		return fmt.Errorf("system prompt cannot be empty")
	}

	if !allowedVoices[manifest.Voice] {
		return fmt.Errorf("unrecognized voice: %s", manifest.Voice)
	}

	if manifest.Temperature < 0 || manifest.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", manifest.Temperature)
	}

	if manifest.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be positive, got %d", manifest.MaxTokens)
	}

	return nil
}

// ParseManifest parses a manifest from JSON bytes without default merging
// (for testing)
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &manifest, nil
}
