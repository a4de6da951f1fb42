package core

const (
	// ArtifactsDir is where run-scoped writes land, relative to the project root.
	ArtifactsDir = "artifacts"

	// OversizedDir receives spilled oversized tool output.
	OversizedDir = "artifacts/oversized"

	// RunIDPattern is the safe-identifier format for run-scope identifiers.
	RunIDPattern = `^[A-Za-z0-9_-]{8,64}$`

	// RawArgsHashLength is the length of a SHA-256 hex digest.
	RawArgsHashLength = 64

	// DefaultMaxInputSize caps serialized tool arguments (1 MiB).
	DefaultMaxInputSize = 1 << 20

	// DefaultMaxOutputSize caps serialized tool output before spilling (10 MiB).
	DefaultMaxOutputSize = 10 << 20
)
