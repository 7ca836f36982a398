package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the compiled program schema version.
	IRVersion = "1"

	// EngineVersion is the tally engine version.
	EngineVersion = "0.1.0"
)
