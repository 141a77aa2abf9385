// Package auth verifies the identity tokens presented at the WebSocket
// upgrade boundary.
//
// Invariants:
// - Verification happens before the upgrade; a rejected token never
//   reaches the protocol loop.
// - Signing keys come from a JWKS endpoint through an auto-refreshing
//   cache; the service never holds key material in its own config.
//
// Usage:
//
//	verifier, _ := auth.NewJWKSVerifier(ctx, auth.JWKSVerifierConfig{JWKSURL: url}, logger)
//	claims, err := verifier.Verify(ctx, auth.BearerFromRequest(r))
package auth
