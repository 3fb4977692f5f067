package logger

// Standard field names for structured logging across tempo.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Job identity
	FieldJobID          = "job_id"
	FieldOrgID          = "org_id"
	FieldEntityID       = "entity_id"
	FieldRepositoryType = "repository_type"
	FieldJobType        = "job_type"
	FieldETag           = "etag"
	FieldScheduled      = "scheduled"
	FieldLastRun        = "last_run"
	FieldIncarnation    = "incarnation"

	// Cluster
	FieldNodeID  = "node_id"
	FieldPeer    = "peer"
	FieldShardID = "shard_id"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldBackoff    = "backoff"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Network and files
	FieldAddress = "address"
	FieldFile    = "file"

	FieldSymbol = "symbol" // subsystem glyph, see package sym
)
