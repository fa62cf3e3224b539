package apperror

import (
	"errors"
)

// Kind classifies an error by how the portal reacts to it.
type Kind string

const (
	// KindValidation is detected locally, never reaches the network and is
	// fully recoverable.
	KindValidation Kind = "validation"
	// KindTransport covers network failures and non-2xx responses.
	KindTransport Kind = "transport"
	// KindDataIntegrity is fatal for the current view.
	KindDataIntegrity Kind = "data_integrity"
	// KindSessionInvalid is a normal lifecycle transition: expired
	// credential or an exam session that is no longer active.
	KindSessionInvalid Kind = "session_invalid"
)

// ErrCode is a typed error code for consistent error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation         ErrCode = "VALIDATION_ERROR"
	ErrMissingCredentials ErrCode = "MISSING_CREDENTIALS"
	ErrInvalidEmail       ErrCode = "INVALID_EMAIL"
	ErrInvalidPassword    ErrCode = "INVALID_PASSWORD"
	ErrInvalidID          ErrCode = "INVALID_ID"
	ErrNoAnswerSelected   ErrCode = "NO_ANSWER_SELECTED"
	ErrUnknownAnswer      ErrCode = "UNKNOWN_ANSWER"
	ErrSubmissionInFlight ErrCode = "SUBMISSION_IN_FLIGHT"
	ErrExamAlreadyActive  ErrCode = "EXAM_ALREADY_ACTIVE"

	// ─── Transport ─────────────────────────────────────────────────────
	ErrRequestFailed    ErrCode = "REQUEST_FAILED"
	ErrNetwork          ErrCode = "NETWORK_ERROR"
	ErrLoadFailed       ErrCode = "LOAD_FAILED"
	ErrSubmitFailed     ErrCode = "SUBMIT_FAILED"
	ErrCompletionFailed ErrCode = "COMPLETION_FAILED"

	// ─── Data integrity ────────────────────────────────────────────────
	ErrInvalidPayload   ErrCode = "INVALID_PAYLOAD"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"
	ErrSessionMissing   ErrCode = "SESSION_MISSING"
	ErrCorruptStore     ErrCode = "CORRUPT_STORE"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrNotAuthenticated ErrCode = "NOT_AUTHENTICATED"
	ErrTokenExpired     ErrCode = "TOKEN_EXPIRED"
	ErrTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrSessionInactive  ErrCode = "SESSION_INACTIVE"
	ErrSessionNotReady  ErrCode = "SESSION_NOT_READY"
	ErrSessionClosed    ErrCode = "SESSION_CLOSED"

	ErrRateLimited ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrInternal    ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrMissingCredentials:
		return "Please enter email and password"
	case ErrInvalidEmail:
		return "Please enter a valid email address"
	case ErrInvalidPassword:
		return "Password must be at least 6 characters long"
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrNoAnswerSelected:
		return "Please select an answer before submitting"
	case ErrUnknownAnswer:
		return "The selected answer does not belong to this question."
	case ErrSubmissionInFlight:
		return "An answer is already being submitted."
	case ErrExamAlreadyActive:
		return "Another exam is already in progress. Finish it before starting a new one."

	case ErrRequestFailed:
		return "Request failed"
	case ErrNetwork:
		return "Unable to reach the exam server."
	case ErrLoadFailed:
		return "Failed to load questions"
	case ErrSubmitFailed:
		return "Failed to submit answer"
	case ErrCompletionFailed:
		return "The exam was closed locally but the server did not confirm completion."

	case ErrInvalidPayload:
		return "The server returned an unexpected response."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrQuestionNotFound:
		return "Unable to load the current question."
	case ErrSessionMissing:
		return "Unable to load exam information."
	case ErrCorruptStore:
		return "Stored session data is unreadable."

	case ErrNotAuthenticated:
		return "Please log in to continue."
	case ErrTokenExpired:
		return "Your session has expired. Please log in again."
	case ErrTokenInvalid:
		return "Stored credential is invalid. Please log in again."
	case ErrSessionInactive:
		return "There is no exam in progress."
	case ErrSessionNotReady:
		return "The exam is not ready yet."
	case ErrSessionClosed:
		return "This exam session has ended."

	case ErrRateLimited:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "An internal error occurred."
	default:
		return "An unexpected error occurred."
	}
}

// Error is the single error shape surfaced to the presentation layer.
type Error struct {
	Kind Kind
	Code ErrCode
	// Detail overrides the code's default message, e.g. the server's
	// "detail" field.
	Detail string
	// Status is the HTTP status returned by the backend, 0 if none.
	Status int
	Fields map[string]string
	Err    error
}

// Message returns the user-facing message.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return GetMessage(e.Code)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message() + ": " + e.Err.Error()
	}
	return e.Message()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a KindValidation error.
func Validation(code ErrCode, detail string) *Error {
	return &Error{Kind: KindValidation, Code: code, Detail: detail}
}

// ValidationFields builds a KindValidation error carrying field messages.
func ValidationFields(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: ErrValidation, Fields: fields}
}

// Transport builds a KindTransport error.
func Transport(code ErrCode, status int, detail string, err error) *Error {
	return &Error{Kind: KindTransport, Code: code, Status: status, Detail: detail, Err: err}
}

// DataIntegrity builds a KindDataIntegrity error.
func DataIntegrity(code ErrCode, detail string, err error) *Error {
	return &Error{Kind: KindDataIntegrity, Code: code, Detail: detail, Err: err}
}

// SessionInvalid builds a KindSessionInvalid error.
func SessionInvalid(code ErrCode) *Error {
	return &Error{Kind: KindSessionInvalid, Code: code}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrInternal
}

// MessageOf returns the user-facing message for any error.
func MessageOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message()
	}
	return err.Error()
}
