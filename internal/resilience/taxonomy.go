package resilience

// ErrorKind is the error taxonomy from the spec, orthogonal to error
// source: every error a component can produce maps to exactly one kind,
// and the kind alone determines its propagation rule.
type ErrorKind string

const (
	KindTransient        ErrorKind = "transient"
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindParseError       ErrorKind = "parse_error"
	KindSchemaViolation  ErrorKind = "schema_violation"
	// KindSchemaViolationFatal is a strict-mode Contract Validator
	// rejection: still schema-tagged for the DLQ entry and metrics, but
	// fatal rather than skippable, distinct from KindInternal (an
	// invariant violation, not a contract mismatch).
	KindSchemaViolationFatal ErrorKind = "schema_violation_fatal"
	KindCircuitOpen          ErrorKind = "circuit_open"
	KindConfigError          ErrorKind = "config_error"
	KindInternal             ErrorKind = "internal"
)

// Classified is implemented by every taxonomy error type.
type Classified interface {
	error
	Kind() ErrorKind
}

// KindedError is the common shape for taxonomy errors that don't need a
// distinct Go type of their own.
type KindedError struct {
	ErrKind ErrorKind
	Message string
	Cause   error
}

func (e *KindedError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *KindedError) Unwrap() error { return e.Cause }

func (e *KindedError) Kind() ErrorKind { return e.ErrKind }

// New constructs a KindedError of the given kind.
func New(kind ErrorKind, message string, cause error) *KindedError {
	return &KindedError{ErrKind: kind, Message: message, Cause: cause}
}

// Retryable reports whether errors of this kind should be retried by the
// executor before falling to the dead-letter sink.
func (k ErrorKind) Retryable() bool { return k == KindTransient }

// Skippable reports whether errors of this kind should be logged and
// dropped without aborting the enclosing phase.
func (k ErrorKind) Skippable() bool {
	switch k {
	case KindNotFound, KindForbidden, KindParseError, KindSchemaViolation, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// Fatal reports whether errors of this kind must abort the enclosing
// phase.
func (k ErrorKind) Fatal() bool {
	return k == KindConfigError || k == KindInternal || k == KindSchemaViolationFatal
}
