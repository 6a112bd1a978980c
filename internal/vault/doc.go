// Package vault protects the long-lived secrets opsgate needs to reach
// downstream systems: graph store credentials and cloud identity.
//
// Secrets rest in AES-256-GCM envelopes whose keys are derived from a
// master key with scrypt and a fresh random salt per save. Decryption
// fails closed: a wrong master key, a tampered ciphertext, or a malformed
// envelope yields an error and never partial plaintext.
//
// The master key is supplied externally in production. The
// generate-and-persist fallback exists solely for local development and
// announces itself loudly; do not generalize it.
package vault
