package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashArgs returns the SHA-256 of the canonical JSON encoding of args as 64
// lowercase hex characters. Map keys are sorted by the encoder, so equal
// argument maps always hash identically. Raw args never leave this function.
func HashArgs(args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		// Non-serializable args cannot have passed schema validation; fall
		// back to hashing the formatted value so a record is still produced.
		encoded = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
