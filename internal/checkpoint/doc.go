// Package checkpoint reads and writes session checkpoints in the TOON
// format: the four magic bytes "TOON", one version byte, then a msgpack
// encoded map.
//
// Payloads come back normalised to JSON-compatible types so a saved map
// and its loaded copy compare equal after the same normalisation.
package checkpoint
