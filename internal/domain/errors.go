package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Pipeline sentinels. Each maps to exactly one ErrorCode.
var (
	ErrAcquisition = fmt.Errorf("camera acquisition failed")
	ErrNotReady    = fmt.Errorf("video feed not ready")
	ErrEncoding    = fmt.Errorf("frame encoding failed")
	ErrUpload      = fmt.Errorf("upload failed")
	ErrProxyInput  = fmt.Errorf("unsupported image payload")
	ErrRemoteModel = fmt.Errorf("remote vision model failed")

	// Acquisition reasons, as reported by the media layer.
	ErrNoDevice        = fmt.Errorf("no camera device found")
	ErrOverconstrained = fmt.Errorf("camera constraints cannot be satisfied")
	ErrDeviceBusy      = fmt.Errorf("camera device busy")

	// Preview surface.
	ErrBusy       = fmt.Errorf("analysis already in progress")
	ErrSuperseded = fmt.Errorf("analysis superseded by a newer capture")
	ErrNoSession  = fmt.Errorf("no active camera session")

	// Resilience errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")

	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrDecryption = fmt.Errorf("decryption failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Acquirer.Acquire")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "camera", "upload"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// AcquisitionError reports that every constraint attempt for a facing mode failed.
// It matches both ErrAcquisition and its Reason with errors.Is.
type AcquisitionError struct {
	Facing   FacingMode
	Reason   error   // ErrPermissionDenied, ErrNoDevice, ErrOverconstrained, ErrDeviceBusy
	Attempts []error // one entry per constraint tried, in order
}

func (e *AcquisitionError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msgs = append(msgs, a.Error())
	}
	s := fmt.Sprintf("%s (%s camera): %s", ErrAcquisition, e.Facing, e.Reason)
	if len(msgs) > 0 {
		s += " [" + strings.Join(msgs, "; ") + "]"
	}
	return s
}

func (e *AcquisitionError) Unwrap() []error { return []error{ErrAcquisition, e.Reason} }

// RemoteModelError carries the vision provider's status and raw body so the
// proxy can relay them to the client unchanged.
type RemoteModelError struct {
	Status int
	Body   string
	Err    error
}

func (e *RemoteModelError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: API error %d: %s", ErrRemoteModel, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrRemoteModel, e.Err)
	}
	return ErrRemoteModel.Error()
}

func (e *RemoteModelError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemoteModel, e.Err}
	}
	return []error{ErrRemoteModel}
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeAcquisition    ErrorCode = "ACQUISITION"
	CodeNotReady       ErrorCode = "NOT_READY"
	CodeEncoding       ErrorCode = "ENCODING"
	CodeUpload         ErrorCode = "UPLOAD"
	CodeProxyInput     ErrorCode = "PROXY_INPUT"
	CodeRemoteModel    ErrorCode = "REMOTE_MODEL"
	CodeNoDevice       ErrorCode = "NO_DEVICE"
	CodeOverconstraint ErrorCode = "OVERCONSTRAINED"
	CodeDeviceBusy     ErrorCode = "DEVICE_BUSY"
	CodeBusy           ErrorCode = "BUSY"
	CodeSuperseded     ErrorCode = "SUPERSEDED"
	CodeNoSession      ErrorCode = "NO_SESSION"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeDecryption     ErrorCode = "DECRYPTION"

	// CodeUploadTimeout is the client's own deadline; CodeRemoteTimeout is
	// the proxy's deadline on the vision call.
	CodeUploadTimeout ErrorCode = "UPLOAD_TIMEOUT"
	CodeRemoteTimeout ErrorCode = "REMOTE_TIMEOUT"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrAcquisition:     CodeAcquisition,
	ErrNotReady:        CodeNotReady,
	ErrEncoding:        CodeEncoding,
	ErrUpload:          CodeUpload,
	ErrProxyInput:      CodeProxyInput,
	ErrRemoteModel:     CodeRemoteModel,
	ErrNoDevice:        CodeNoDevice,
	ErrOverconstrained: CodeOverconstraint,
	ErrDeviceBusy:      CodeDeviceBusy,
	ErrBusy:            CodeBusy,
	ErrSuperseded:      CodeSuperseded,
	ErrNoSession:       CodeNoSession,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrConfigLoad:      CodeConfigLoad,
	ErrDecryption:      CodeDecryption,
}

// codePriority lists sentinels in lookup order when walking a wrapped chain.
// Pipeline sentinels come before their reasons so an AcquisitionError resolves
// to ACQUISITION rather than to whichever reason map iteration hits first.
var codePriority = []error{
	ErrTimeout,
	ErrAcquisition,
	ErrNotReady,
	ErrEncoding,
	ErrUpload,
	ErrProxyInput,
	ErrRemoteModel,
	ErrBusy,
	ErrSuperseded,
	ErrNoSession,
	ErrNoDevice,
	ErrOverconstrained,
	ErrDeviceBusy,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrConfigLoad,
	ErrDecryption,
	ErrPermissionDenied,
	ErrInvalidInput,
	ErrProviderError,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"upload": CodeUploadTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// For DomainErrors with a SubSystem, it also checks the subSystemCodeMap
// to resolve category sentinels to specific codes.
// A RemoteModelError that also matches ErrTimeout is CodeRemoteTimeout.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var rme *RemoteModelError
	if errors.As(err, &rme) && errors.Is(rme, ErrTimeout) {
		return CodeRemoteTimeout
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
