package persona

// ManifestSchema is the JSON schema used to validate persona manifests
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable persona name"
    },
    "system_prompt": {
      "type": "string",
      "minLength": 1,
      "description": "System prompt seeded into every new session"
    },
    "voice": {
      "type": "string",
      "enum": ["alloy", "echo", "shimmer", "ash", "ballad", "coral", "sage", "verse"],
      "description": "Synthesis voice"
    },
    "temperature": {
      "type": "number",
      "minimum": 0,
      "maximum": 2,
      "description": "Sampling temperature for reply generation"
    },
    "max_tokens": {
      "type": "integer",
      "minimum": 1,
      "description": "Upper bound on generated reply tokens"
    },
    "stream_audio": {
      "type": "boolean",
      "description": "Whether synthesized audio is streamed back in chunks"
    }
  }
}`
