package ir

// Version constants for the module config schema and the tool.
const (
	// SchemaVersion is the ModuleConfig schema version.
	SchemaVersion = "1"

	// GhjkVersion is the tool version.
	GhjkVersion = "0.3.0"
)
