package instant

// FailureKind classifies why a session request did not produce a document.
type FailureKind int

const (
	// KindCancelled means the request was aborted before it completed.
	KindCancelled FailureKind = iota + 1
	// KindInvalidCode means the backend rejected the session code with a 400.
	KindInvalidCode
	// KindInternalError covers transport failures, unexpected responses and
	// unparseable bodies.
	KindInternalError
)

func (k FailureKind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindInvalidCode:
		return "invalid_code"
	case KindInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Failure is the error delivered to a completion handler when a request fails.
// Underlying is only ever set for KindInternalError and holds the transport
// error that caused it.
type Failure struct {
	Kind       FailureKind
	Underlying error
}

var (
	// ErrCancelled matches any failure of kind KindCancelled.
	ErrCancelled = &Failure{Kind: KindCancelled}
	// ErrInvalidCode matches any failure of kind KindInvalidCode.
	ErrInvalidCode = &Failure{Kind: KindInvalidCode}
	// ErrInternal matches any failure of kind KindInternalError.
	ErrInternal = &Failure{Kind: KindInternalError}
)

func internalError(underlying error) *Failure {
	return &Failure{Kind: KindInternalError, Underlying: underlying}
}

// Error returns a description suitable for showing to the user.
func (f *Failure) Error() string {
	switch f.Kind {
	case KindCancelled:
		return "The request has been cancelled."
	case KindInvalidCode:
		return "The document code is invalid."
	default:
		if f.Underlying != nil {
			return "An error occurred: " + f.Underlying.Error()
		}
		return "An internal error occurred."
	}
}

// Unwrap returns the underlying transport error, if any.
func (f *Failure) Unwrap() error {
	return f.Underlying
}

// Is matches any Failure of the same kind, so errors.Is(err, ErrInternal)
// holds regardless of the underlying cause.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}
