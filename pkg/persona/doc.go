// Package persona fixes the conversational behavior of the service: the
// system prompt, synthesis voice, and generation knobs that every new
// session is created with.
//
// Invariants:
// - The active manifest swaps atomically on reload; readers never observe
//   a half-applied persona.
// - A manifest that fails validation never becomes active; the previous
//   manifest keeps serving.
// - Sessions snapshot the manifest at creation, so a reload only affects
//   sessions started after it.
//
// Usage:
//
//	provider, _ := persona.NewProvider(persona.ProviderConfig{Path: "persona.json", Logger: logger})
//	_ = provider.Watch()
//	defer provider.Stop()
//	m := provider.Current()
//	_ = m.SystemPrompt
package persona
