package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "students-registry context key " + string(c)
}

const (
	// RequestIDKey carries the per-request identifier set by the request id middleware.
	RequestIDKey = contextKey("requestID")
	// ComponentKey names the component handling the call, for log enrichment.
	ComponentKey = contextKey("component")
	// OperationKey names the repository or usecase operation in flight.
	OperationKey = contextKey("operation")
	// StudentIDKey carries the student identifier addressed by the request, when any.
	StudentIDKey = contextKey("studentID")
)
