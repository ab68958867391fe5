// Package errors provides the typed error contract shared by every session component.
// Each component boundary reports one Kind, and the kind decides the recovery policy.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind classifies an error by how the session reacts to it.
type Kind uint8

const (
	KindInternal     Kind = iota
	KindDevice            // capture device unavailable, retried with fixed backoff
	KindModel             // collaborator call failed, cycle skipped
	KindState             // invalid transition, returned as a no-op result
	KindFinalization      // stop-time pipeline failed, recorded as partial failure
	KindConfig            // bad or missing configuration
)

func (k Kind) String() string {
	return [...]string{"internal", "device", "model", "state", "finalization", "config"}[k]
}

// Code identifies the concrete failure inside a kind.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInternal         Code = "INTERNAL"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeCancelled        Code = "CANCELLED"
	CodeNoDevice         Code = "AUDIO_NO_DEVICE"
	CodeDeviceFailed     Code = "AUDIO_DEVICE_FAILED"
	CodeScreenFailed     Code = "SCREEN_CAPTURE_FAILED"
	CodeTranscription    Code = "TRANSCRIPTION_FAILED"
	CodeExtraction       Code = "EXTRACTION_FAILED"
	CodeHints            Code = "HINTS_FAILED"
	CodeBattlecard       Code = "BATTLECARD_FAILED"
	CodeEnrichment       Code = "ENRICHMENT_FAILED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInvalidResponse  Code = "INVALID_RESPONSE"
	CodeNotRunning       Code = "SESSION_NOT_RUNNING"
	CodeInvalidState     Code = "INVALID_TRANSITION"
	CodeSummarize        Code = "SUMMARIZE_FAILED"
	CodeCRM              Code = "CRM_FAILED"
	CodePersist          Code = "PERSIST_FAILED"
	CodeNotConfigured    Code = "NOT_CONFIGURED"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
)

var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:         codes.Unknown,
	CodeInternal:        codes.Internal,
	CodeInvalidArgument: codes.InvalidArgument,
	CodeUnavailable:     codes.Unavailable,
	CodeTimeout:         codes.DeadlineExceeded,
	CodeCancelled:       codes.Canceled,
	CodeNoDevice:        codes.NotFound,
	CodeDeviceFailed:    codes.Unavailable,
	CodeTranscription:   codes.Internal,
	CodeExtraction:      codes.Internal,
	CodeHints:           codes.Internal,
	CodeBattlecard:      codes.Internal,
	CodeRateLimited:     codes.ResourceExhausted,
	CodeInvalidResponse: codes.Internal,
	CodeNotRunning:      codes.FailedPrecondition,
	CodeInvalidState:    codes.FailedPrecondition,
	CodeNotConfigured:   codes.FailedPrecondition,
	CodeConfigInvalid:   codes.InvalidArgument,
}

// AppError carries a kind, a code and structured metadata.
type AppError struct {
	Kind     Kind
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s [%s] %s", e.Kind, e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status with kind, code and metadata attached as a Struct detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	fields := map[string]any{"kind": e.Kind.String(), "code": string(e.Code)}
	for k, v := range e.Metadata {
		fields["meta."+k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail
	}
	return st
}

func New(kind Kind, code Code, msg string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: msg}
}

func Newf(kind Kind, code Code, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, code Code, msg string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: msg, Cause: err}
}

func Wrapf(err error, kind Kind, code Code, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Device, Model, State and Finalization are shorthands for the four session-facing kinds.
func Device(code Code, err error, msg string) *AppError { return Wrap(err, KindDevice, code, msg) }
func Model(code Code, err error, msg string) *AppError  { return Wrap(err, KindModel, code, msg) }
func State(code Code, msg string) *AppError             { return New(KindState, code, msg) }
func Finalization(code Code, err error, msg string) *AppError {
	return Wrap(err, KindFinalization, code, msg)
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts a gRPC error into an AppError of the given kind.
// Kind and code details attached by GRPCStatus win over the status code mapping.
func FromGRPCError(err error, kind Kind) *AppError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Kind: kind, Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	out := &AppError{Kind: kind, Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		if c, ok := s.Fields["code"]; ok {
			out.Code = Code(c.GetStringValue())
		}
	}
	return out
}

func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.FailedPrecondition:
		return CodeNotConfigured
	case codes.ResourceExhausted:
		return CodeRateLimited
	default:
		return CodeUnknown
	}
}

// IsKind reports whether any AppError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsCode reports whether any AppError in err's chain has the given code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.Kind == KindDevice {
		return true
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}
