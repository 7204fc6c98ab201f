package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "firestore-sync context key " + string(c)
}

// InstanceIDKey is the key for the sync instance identifier in context.Context
const InstanceIDKey = contextKey("instanceID")

// ConfigIDKey is the key for the collection configuration identifier in context.Context
const ConfigIDKey = contextKey("configID")

// DocumentPathKey is the key for the document path being processed
const DocumentPathKey = contextKey("documentPath")

// RunIDKey identifies one consolidation or backfill run
const RunIDKey = contextKey("runID")

// ComponentKey is the key for the emitting component
const ComponentKey = contextKey("component")
